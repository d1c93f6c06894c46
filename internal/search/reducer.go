// Package search runs keyword searches over a bucket and keeps the state of
// the result list.
package search

import "github.com/TheMichaelB/stowage/internal/models"

// State of the result list.
type State struct {
	Show    bool                  `json:"show"`
	Keyword string                `json:"keyword"`
	Results []models.SearchResult `json:"results"`
}

// Action is one of ShowResults, ShowNoResults or Close.
type Action interface {
	action()
}

// ShowResults displays results for keyword.
type ShowResults struct {
	Keyword string
	Results []models.SearchResult
}

// ShowNoResults displays the empty-result message for keyword.
type ShowNoResults struct {
	Keyword string
}

// Close hides the result list.
type Close struct{}

func (ShowResults) action()   {}
func (ShowNoResults) action() {}
func (Close) action()         {}

// Reduce returns the state after a.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case ShowResults:
		return State{Show: true, Keyword: a.Keyword, Results: a.Results}
	case ShowNoResults:
		return State{Show: true, Keyword: a.Keyword, Results: []models.SearchResult{}}
	case Close:
		return State{Results: []models.SearchResult{}}
	}
	return s
}
