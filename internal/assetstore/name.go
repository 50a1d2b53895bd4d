package assetstore

import "github.com/google/uuid"

// NameFor derives a stable asset name from a source URL for callers that
// have no natural identifier to store it under.
func NameFor(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}
