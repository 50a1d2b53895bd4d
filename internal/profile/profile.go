// Package profile loads the detail view for a user picked from search
// results: the full user record and its repositories.
package profile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/starford/octoscope/internal/apperr"
	"github.com/starford/octoscope/internal/record"
	"github.com/starford/octoscope/internal/search"
)

// Source fetches user and repository records. *github.Client satisfies it.
type Source interface {
	User(ctx context.Context, userURL string) (record.Record, error)
	Repos(ctx context.Context, reposURL string) (record.Set, error)
}

// Profile is a user with their repositories.
type Profile struct {
	User  record.Record `json:"user"`
	Repos record.Set    `json:"repos"`
}

// Service loads profiles.
type Service struct {
	src Source
}

// NewService returns a service reading from src.
func NewService(src Source) *Service {
	return &Service{src: src}
}

// Load fetches the user's detail record and repository list concurrently.
// The search record must carry url and repos_url.
func (s *Service) Load(ctx context.Context, user record.Record) (*Profile, error) {
	userURL, ok := user.String("url")
	if !ok || userURL == "" {
		return nil, apperr.Decode("profile", errors.New("user record has no url"))
	}
	reposURL, ok := user.String("repos_url")
	if !ok || reposURL == "" {
		return nil, apperr.Decode("profile", errors.New("user record has no repos_url"))
	}

	var p Profile
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.src.User(gCtx, userURL)
		if err != nil {
			return err
		}
		p.User = u
		return nil
	})
	g.Go(func() error {
		repos, err := s.src.Repos(gCtx, reposURL)
		if err != nil {
			return err
		}
		p.Repos = repos
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return &p, nil
}

// Repos fetches a repository list and filters it by name. Text shorter than
// three characters returns the full list.
func (s *Service) Repos(ctx context.Context, reposURL, text string) (record.Set, error) {
	if reposURL == "" {
		return nil, apperr.Decode("profile", errors.New("empty repos_url"))
	}
	repos, err := s.src.Repos(ctx, reposURL)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return search.Filter(repos, "name", text), nil
}
