package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across stories and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Stories sub-query
	if q.FilterType == "" || q.FilterType == ResultStory {
		storyWhere := "s.search_tsv @@ " + tsQuery
		if q.FilterSiteID != "" {
			storyWhere += fmt.Sprintf(" AND s.site_id = $%d", argN)
			args = append(args, q.FilterSiteID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'story'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.author, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS story_id, s.site_id,
				''::text AS status,
				ts_rank(s.search_tsv, %s) AS rank
			FROM stories s
			WHERE %s`, tsQuery, tsQuery, storyWhere))
	}

	// Comments sub-query
	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "c.search_tsv @@ " + tsQuery
		if q.FilterSiteID != "" {
			commentWhere += fmt.Sprintf(" AND s.site_id = $%d", argN)
			args = append(args, q.FilterSiteID)
			argN++
		}
		if !q.IncludeHidden {
			commentWhere += " AND c.status IN ('NONE', 'APPROVED')"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.author_name AS title,
				ts_headline('english', coalesce(c.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.story_id, s.site_id,
				c.status,
				ts_rank(c.search_tsv, %s) AS rank
			FROM comments c
			JOIN stories s ON s.id = c.story_id
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, story_id, site_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.StoryID, &r.SiteID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]StoryRecord, []CommentRecord, error) {
	storyRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, author, url, site_id
		FROM stories
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load stories: %w", err)
	}
	defer storyRows.Close()

	stories := make([]StoryRecord, 0)
	for storyRows.Next() {
		var s StoryRecord
		if err := storyRows.Scan(&s.ID, &s.Title, &s.Author, &s.URL, &s.SiteID); err != nil {
			return nil, nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, s)
	}
	if err := storyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate stories: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.body, c.author_name, c.story_id, s.site_id, c.status
		FROM comments c
		JOIN stories s ON s.id = c.story_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Body, &c.AuthorName, &c.StoryID, &c.SiteID, &c.Status); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return stories, comments, nil
}
