// Package automation holds the task vocabulary shared between the driver
// layer and the task layer. It exists as its own package so that the driver
// does not have to import the executor (and vice versa).
package automation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionNavigate    ActionType = "navigate"
	ActionWaitVisible ActionType = "wait_visible"
	ActionWaitHidden  ActionType = "wait_hidden"
	ActionWaitDelay   ActionType = "wait_delay"
	ActionClick       ActionType = "click"
	ActionInput       ActionType = "type"
	ActionSelect      ActionType = "select"
	ActionScroll      ActionType = "scroll"
	ActionLogin       ActionType = "login"
)

// Action is one step of a task's browser script. Selector addresses the
// element (CSS), Value carries the action argument (URL, text, duration).
// Values may reference {{credentials.*}} placeholders, resolved by the
// driver at execution time.
type Action struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
}

type ExtractMode string

const (
	ExtractText       ExtractMode = "text"
	ExtractHTML       ExtractMode = "html"
	ExtractScreenshot ExtractMode = "screenshot"
)

// ExtractSpec describes what to pull out of the page once the action script
// has run. Selectors are tried in order; the first one that yields anything
// wins. An empty selector list in text mode extracts the whole page's visible
// text. Filtering (MinLength, Dedupe, Limit) applies to selector-based text
// mode only.
type ExtractSpec struct {
	Selectors []string    `json:"selectors"`
	Mode      ExtractMode `json:"mode,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	MinLength int         `json:"min_length,omitempty"`
	Dedupe    bool        `json:"dedupe,omitempty"`
}

// FilterTexts applies the spec's text filters: trim, minimum length,
// optional dedupe (first occurrence wins, order preserved), optional cap.
func (s *ExtractSpec) FilterTexts(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || len(item) < s.MinLength {
			continue
		}
		if s.Dedupe {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
		}
		out = append(out, item)
		if s.Limit > 0 && len(out) >= s.Limit {
			break
		}
	}
	return out
}

// Credentials are caller-supplied secrets referenced by placeholder from
// action values. Never serialized back to the caller.
type Credentials struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

// Task is one unit of browser work. Immutable once submitted; the executor
// and driver only read it. MaxRetries bounds crash retries: zero means the
// executor's configured default, a negative value disables retries entirely.
type Task struct {
	ID          uuid.UUID     `json:"id"`
	URL         string        `json:"url,omitempty"`
	Actions     []Action      `json:"actions"`
	Extract     *ExtractSpec  `json:"extract,omitempty"`
	Timeout     time.Duration `json:"-"`
	MaxRetries  int           `json:"max_retries,omitempty"`
	Credentials *Credentials  `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewTask builds a task with a fresh ID. URL, when set, is navigated to
// before the action script runs.
func NewTask(url string, actions []Action, extract *ExtractSpec) *Task {
	return &Task{
		ID:        uuid.New(),
		URL:       url,
		Actions:   actions,
		Extract:   extract,
		CreatedAt: time.Now().UTC(),
	}
}

// Metadata describes how a result was produced.
type Metadata struct {
	HandleID string        `json:"handle_id"`
	Retries  int           `json:"retries"`
	Duration time.Duration `json:"duration_ms"`
	FinalURL string        `json:"final_url,omitempty"`
}

// Result is the success payload of a task.
type Result struct {
	Data any      `json:"data,omitempty"`
	Meta Metadata `json:"meta"`
}
