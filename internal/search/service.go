package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.IncludeHidden), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.IncludeHidden), Total: total, Query: q.Text}
}

// IndexStory indexes a story (fire-and-forget to Meilisearch).
func (s *Service) IndexStory(record StoryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexStory(record); err != nil {
			s.log.Warn().Err(err).Str("story_id", record.ID).Msg("search: index story")
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(record CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(record); err != nil {
			s.log.Warn().Err(err).Str("comment_id", record.ID).Msg("search: index comment")
		}
	}()
}

// DeleteComment removes a comment from the search index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			s.log.Warn().Err(err).Str("comment_id", id).Msg("search: delete comment")
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	stories, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.meili.IndexStories(stories); err != nil {
		s.log.Error().Err(err).Msg("search: reindex stories")
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.log.Error().Err(err).Msg("search: reindex comments")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops held and rejected comments for callers without
// moderation authority. Both backends filter at query time as well; this
// is the final gate before results leave the service.
func sanitizeResults(results []Result, includeHidden bool) []Result {
	if includeHidden {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultComment && result.Status != "NONE" && result.Status != "APPROVED" {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
