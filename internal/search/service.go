package search

import (
	"context"
	"log"
)

// Fallback is the Postgres-backed search used when Meilisearch is down,
// satisfied by store.PostgresStore via an adapter in cmd/api.
type Fallback interface {
	SearchPolicies(ctx context.Context, ownerID, query string, limit int) ([]Result, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    *Meili
	fallback Fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pg fts: %v", err)
	}

	results, err := s.fallback.SearchPolicies(ctx, q.OwnerID, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: pg fts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results = nonNil(results)
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexPolicy indexes a policy (fire-and-forget to Meilisearch).
func (s *Service) IndexPolicy(record PolicyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPolicy(record); err != nil {
			log.Printf("search: index policy %s: %v", record.ID, err)
		}
	}()
}

// DeletePolicy removes a policy from the index (fire-and-forget).
func (s *Service) DeletePolicy(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePolicy(id); err != nil {
			log.Printf("search: delete policy %s: %v", id, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
