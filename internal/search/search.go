package search

import "strings"

// ResultType identifies the kind of content in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultIdea    ResultType = "idea"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Industry string     `json:"industry,omitempty"`
	Field    string     `json:"field,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProjectRecord is the data indexed for a project. Only public projects are
// indexed.
type ProjectRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Industry    string `json:"industry"`
	Field       string `json:"field"`
	Difficulty  int    `json:"difficulty"`
	CreatedAt   int64  `json:"createdAt"`
}

// IdeaRecord is the data indexed for an idea.
type IdeaRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Industry    string `json:"industry"`
	Field       string `json:"field"`
	Promoted    bool   `json:"promoted"`
	CreatedAt   int64  `json:"createdAt"`
}

func (q Query) normalized() Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func snippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
