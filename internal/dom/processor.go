// Package dom bundles the low-level chromedp actions the driver composes
// into task scripts, plus an HTML post-processor that strips pages down to
// the content-bearing markup before they are returned to callers.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"
)

func NavigateAction(url string) chromedp.Action {
	return chromedp.Navigate(url)
}

func ClickAction(selector string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
}

func TypeAction(selector, text string) chromedp.Action {
	return chromedp.SendKeys(selector, text, chromedp.ByQuery)
}

func SelectAction(selector, value string) chromedp.Action {
	return chromedp.SetValue(selector, value, chromedp.ByQuery)
}

func WaitVisibleAction(selector string) chromedp.Action {
	return chromedp.WaitVisible(selector, chromedp.ByQuery)
}

func WaitHiddenAction(selector string) chromedp.Action {
	return chromedp.WaitNotVisible(selector, chromedp.ByQuery)
}

func ScrollIntoViewAction(selector string) chromedp.Action {
	return chromedp.ScrollIntoView(selector, chromedp.ByQuery)
}

func GetOuterHTMLAction(selector string, res *string) chromedp.Action {
	return chromedp.OuterHTML(selector, res, chromedp.ByQuery)
}

func ScreenshotAction(quality int, res *[]byte) chromedp.Action {
	return chromedp.FullScreenshot(res, quality)
}

// TextsAction collects the trimmed innerText of every element matching the
// selector. Matching happens in-page so one round trip covers any number of
// elements.
func TextsAction(selector string, res *[]string) chromedp.Action {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => el.innerText.trim()).filter(t => t.length > 0)`,
		selector,
	)
	return chromedp.Evaluate(script, res)
}

// LocationAction stores the page's current URL.
func LocationAction(res *string) chromedp.Action {
	return chromedp.Location(res)
}

// Simplify reduces an HTML document to a whitelist of structural and
// interactive tags with a whitelist of attributes. Scripts, styles and
// comments are dropped entirely.
func Simplify(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := simplifyNode(&buf, doc); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

var simplifyTags = map[string]bool{
	"html": true, "head": true, "body": true, "title": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "div": true, "span": true, "br": true, "hr": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tfoot": true, "tr": true, "th": true, "td": true,
	"a": true, "button": true, "input": true, "textarea": true, "select": true, "option": true, "label": true,
	"form": true, "img": true, "pre": true, "code": true, "strong": true, "em": true, "b": true, "i": true,
}

// void elements never get a closing tag
var voidTags = map[string]bool{
	"br": true, "hr": true, "input": true, "img": true,
}

var simplifyAttrs = map[string]bool{
	"href": true, "src": true, "alt": true, "title": true,
	"id": true, "class": true,
	"type": true, "value": true, "placeholder": true, "name": true,
	"selected": true, "checked": true, "disabled": true, "readonly": true,
	"aria-label": true, "aria-hidden": true, "role": true,
}

func simplifyNode(w io.Writer, n *html.Node) error {
	switch n.Type {
	case html.ErrorNode, html.CommentNode:
		return nil
	case html.DoctypeNode:
		if _, err := io.WriteString(w, "<!DOCTYPE "+n.Data+">"); err != nil {
			return err
		}
		return nil
	case html.TextNode:
		trimmed := strings.TrimSpace(n.Data)
		if trimmed != "" {
			if _, err := io.WriteString(w, html.EscapeString(trimmed)+" "); err != nil {
				return err
			}
		}
		return nil
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "meta" || n.Data == "link" {
			return nil
		}
		if !simplifyTags[n.Data] {
			// Unknown wrapper: keep descending, drop the tag itself.
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if err := simplifyNode(w, c); err != nil {
					return err
				}
			}
			return nil
		}
		if _, err := io.WriteString(w, "<"+n.Data); err != nil {
			return err
		}
		for _, a := range n.Attr {
			if !simplifyAttrs[a.Key] {
				continue
			}
			val := strings.TrimSpace(a.Val)
			if val == "" && a.Key != "value" && a.Key != "selected" && a.Key != "checked" && a.Key != "disabled" && a.Key != "readonly" {
				continue
			}
			if _, err := io.WriteString(w, " "+a.Key+"=\""+html.EscapeString(val)+"\""); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, ">"); err != nil {
			return err
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := simplifyNode(w, c); err != nil {
			return err
		}
	}

	if n.Type == html.ElementNode && simplifyTags[n.Data] && !voidTags[n.Data] {
		if _, err := io.WriteString(w, "</"+n.Data+">"); err != nil {
			return err
		}
	}
	return nil
}

// TextContent extracts the visible text of an HTML fragment, space-joined.
func TextContent(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, " "), nil
}
