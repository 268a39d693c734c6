package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"colloquy/api/internal/counts"
	"colloquy/api/internal/store"
	"colloquy/api/internal/story"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetStory(ctx context.Context, storyID string) (story.Story, error)
	ListCommentsByQueue(ctx context.Context, storyID, queue string) ([]store.Comment, error)
	CountCommentsByStatus(ctx context.Context, storyID string) (map[string]int64, error)
}

// Service provides moderation report export functionality
type Service struct {
	store   DataStore
	archive *Archive
}

// NewService creates a new export service. archive may be nil when object
// storage is not configured; Archive requests then fail cleanly.
func NewService(st DataStore, archive *Archive) *Service {
	return &Service{store: st, archive: archive}
}

// Export generates a moderation report in the requested format
func (s *Service) Export(ctx context.Context, req Request, storyStatus string) (*Result, error) {
	item, err := s.store.GetStory(ctx, req.StoryID)
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}

	statusCounts, err := s.store.CountCommentsByStatus(ctx, req.StoryID)
	if err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}

	comments, err := s.store.ListCommentsByQueue(ctx, req.StoryID, store.QueueUnmoderated)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	data := TemplateData{
		Title:        item.Title,
		URL:          item.URL,
		GeneratedAt:  time.Now().UTC(),
		Status:       storyStatus,
		StatusCounts: sortedStatusCounts(statusCounts),
	}
	for _, c := range comments {
		decoded, err := counts.Decode(c.ActionCounts)
		if err != nil {
			return nil, fmt.Errorf("decode counts for comment %s: %w", c.ID, err)
		}
		data.Comments = append(data.Comments, TemplateComment{
			Author:    c.AuthorName,
			Body:      c.Body,
			Status:    c.Status,
			Flags:     decoded.Get(counts.ActionFlag),
			CreatedAt: c.CreatedAt,
		})
	}

	var result *Result
	switch req.Format {
	case FormatCSV:
		result, err = exportCSV(data)
	case FormatPDF:
		var html string
		html, err = RenderReportHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		result, err = exportPDF(html, item.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	if req.Archive {
		if s.archive == nil {
			return nil, fmt.Errorf("report archive not configured")
		}
		key, err := s.archive.Store(ctx, req.StoryID, result)
		if err != nil {
			return nil, err
		}
		result.ArchiveKey = key
	}

	return result, nil
}

// ListArchived returns the previously archived reports for a story.
func (s *Service) ListArchived(ctx context.Context, storyID string) ([]ArchivedReport, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("report archive not configured")
	}
	return s.archive.List(ctx, storyID)
}

func sortedStatusCounts(byStatus map[string]int64) []StatusCount {
	out := make([]StatusCount, 0, len(byStatus))
	for status, n := range byStatus {
		out = append(out, StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}
