// Package suggest builds the Grokipedia autocomplete task and cleans up its
// extraction output.
package suggest

import (
	"strings"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
)

const (
	// SearchURL is the page whose search box produces the suggestions.
	SearchURL = "https://grokipedia.com/"

	// searchInput matches the search box across Grokipedia's layouts.
	searchInput = "input[type='text'], input.w-full"

	// DefaultLimit caps how many suggestions a single query returns.
	DefaultLimit = 10

	// settleDelay gives the page's scripts time to render the dropdown
	// after typing. The dropdown has no reliable "done" signal to wait on.
	settleDelay = "2s"
)

// suggestionSelectors are tried in order; the first that yields text wins.
// They track the markup variants the suggestion dropdown has shipped with.
var suggestionSelectors = []string{
	`div[class*='cursor-pointer'] span`,
	`div.cursor-pointer span`,
	`[role='option']`,
	`div[class*='search'] div[class*='result']`,
	`div[class*='suggestion']`,
	`div[class*='autocomplete'] span`,
	`ul[class*='suggestions'] li`,
	`div[class*='dropdown'] div`,
}

// BuildTask assembles the browser task for one autocomplete query. A limit
// of zero means DefaultLimit.
func BuildTask(query string, limit int) *automation.Task {
	if limit <= 0 {
		limit = DefaultLimit
	}
	actions := []automation.Action{
		{Type: automation.ActionWaitDelay, Value: settleDelay},
		{Type: automation.ActionWaitVisible, Selector: searchInput},
		{Type: automation.ActionInput, Selector: searchInput, Value: query},
		{Type: automation.ActionWaitDelay, Value: settleDelay},
	}
	extract := &automation.ExtractSpec{
		Selectors: suggestionSelectors,
		Mode:      automation.ExtractText,
		MinLength: 3,
		Dedupe:    true,
		Limit:     limit,
	}
	return automation.NewTask(SearchURL, actions, extract)
}

// Refine drops entries that are not suggestions: the echoed query itself and
// oversized text blocks picked up by the looser selectors.
func Refine(query string, items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || strings.EqualFold(item, query) || len(item) >= 200 {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Suggestions converts a task result's data into the final suggestion list.
func Suggestions(query string, res *automation.Result) []string {
	items, _ := res.Data.([]string)
	return Refine(query, items)
}
