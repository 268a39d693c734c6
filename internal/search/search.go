// Package search provides full-text search over stories and comments,
// backed by Meilisearch with a PostgreSQL FTS fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultStory   ResultType = "story"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	StoryID string     `json:"storyId"`
	SiteID  string     `json:"siteId"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request. IncludeHidden is set for moderators,
// who may see held and rejected comments in results.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterSiteID  string
	Limit         int
	Offset        int
	IncludeHidden bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexStory(s StoryRecord) error
	IndexComment(c CommentRecord) error
	DeleteComment(id string) error
}

// StoryRecord is the data we index for a story.
type StoryRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	URL    string `json:"url"`
	SiteID string `json:"siteId"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	StoryID    string `json:"storyId"`
	SiteID     string `json:"siteId"`
	Status     string `json:"status"`
}
