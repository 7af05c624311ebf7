package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/MichaelGodsHand/suggestions/internal/auth"
	"github.com/MichaelGodsHand/suggestions/internal/automation"
	"github.com/MichaelGodsHand/suggestions/internal/dom"
)

// compileAction translates one task action into a chromedp action. Values may
// reference credential placeholders which are resolved here, so secrets never
// appear in the stored task.
func compileAction(a automation.Action, creds *automation.Credentials) (chromedp.Action, error) {
	switch a.Type {
	case automation.ActionNavigate:
		if a.Value == "" {
			return nil, fmt.Errorf("navigate requires a non-empty URL value")
		}
		return dom.NavigateAction(a.Value), nil

	case automation.ActionWaitVisible:
		if a.Selector == "" {
			return nil, fmt.Errorf("wait_visible requires a selector")
		}
		return dom.WaitVisibleAction(a.Selector), nil

	case automation.ActionWaitHidden:
		if a.Selector == "" {
			return nil, fmt.Errorf("wait_hidden requires a selector")
		}
		return dom.WaitHiddenAction(a.Selector), nil

	case automation.ActionWaitDelay:
		d, err := time.ParseDuration(a.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q for wait_delay: %w", a.Value, err)
		}
		return chromedp.Sleep(d), nil

	case automation.ActionClick:
		if a.Selector == "" {
			return nil, fmt.Errorf("click requires a selector")
		}
		return dom.ClickAction(a.Selector), nil

	case automation.ActionInput:
		if a.Selector == "" {
			return nil, fmt.Errorf("type requires a selector")
		}
		value, err := resolveValue(a.Value, creds)
		if err != nil {
			return nil, err
		}
		return dom.TypeAction(a.Selector, value), nil

	case automation.ActionSelect:
		if a.Selector == "" {
			return nil, fmt.Errorf("select requires a selector")
		}
		value, err := resolveValue(a.Value, creds)
		if err != nil {
			return nil, err
		}
		return dom.SelectAction(a.Selector, value), nil

	case automation.ActionScroll:
		switch {
		case a.Value == "top":
			return chromedp.Evaluate(`window.scrollTo(0, 0)`, nil), nil
		case a.Value == "bottom":
			return chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil), nil
		case a.Selector != "":
			return dom.ScrollIntoViewAction(a.Selector), nil
		}
		return nil, fmt.Errorf("scroll requires 'top', 'bottom', or a selector")

	case automation.ActionLogin:
		if creds == nil || creds.Username == "" || creds.Password == "" {
			return nil, fmt.Errorf("login requires credentials")
		}
		userSel := "#username"
		passSel := "#password"
		submitSel := "button[type='submit'], input[type='submit']"
		return chromedp.Tasks{
			chromedp.WaitVisible(userSel, chromedp.ByQuery),
			chromedp.SendKeys(userSel, creds.Username, chromedp.ByQuery),
			chromedp.WaitVisible(passSel, chromedp.ByQuery),
			chromedp.SendKeys(passSel, creds.Password, chromedp.ByQuery),
			chromedp.Click(submitSel, chromedp.ByQuery),
		}, nil

	default:
		return nil, fmt.Errorf("unknown action type: %s", a.Type)
	}
}

// resolveValue substitutes {{credentials.*}} placeholders. TOTP codes are
// generated at execution time so they are fresh when typed.
func resolveValue(value string, creds *automation.Credentials) (string, error) {
	if !strings.Contains(value, "{{credentials.") {
		return value, nil
	}
	if creds == nil {
		return "", fmt.Errorf("value references credentials but none were provided")
	}
	out := value
	out = strings.ReplaceAll(out, "{{credentials.username}}", creds.Username)
	out = strings.ReplaceAll(out, "{{credentials.password}}", creds.Password)
	if strings.Contains(out, "{{credentials.totp}}") {
		code, err := auth.GenerateTOTP(creds.TOTPSecret)
		if err != nil {
			return "", fmt.Errorf("resolve totp placeholder: %w", err)
		}
		out = strings.ReplaceAll(out, "{{credentials.totp}}", code)
	}
	return out, nil
}
