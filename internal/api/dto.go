package api

import (
	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/manifest"
	"github.com/starford/octoscope/internal/record"
	"github.com/starford/octoscope/internal/search"
)

// QueryRequest is the request body for POST /api/search/query.
type QueryRequest struct {
	Text string `json:"text" example:"octo"`
}

// SearchSnapshot is the coordinator's display state.
type SearchSnapshot = search.Snapshot

// ReposResponse wraps a repository list.
type ReposResponse struct {
	Repos record.Set `json:"repos" validate:"required"`
	Total int        `json:"total" example:"3" validate:"required"`
}

// AssetsResponse describes both cache tiers.
type AssetsResponse struct {
	Assets   []manifest.Entry `json:"assets" validate:"required"`
	Disk     manifest.Stats   `json:"disk" validate:"required"`
	Memory   assetcache.Stats `json:"memory" validate:"required"`
	InFlight int64            `json:"in_flight" example:"0"`
}
