package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/sentinel/keepalive"
)

// PierceSeparator splits a selector into steps; each later step is matched
// inside the open shadow root of the element found by the previous one.
const PierceSeparator = ">>>"

// PageLocator implements keepalive.Locator on a Rod page. Lookups never
// wait: an element that is not in the DOM right now is absent.
type PageLocator struct {
	page *rod.Page
}

// NewPageLocator creates a locator over page.
func NewPageLocator(page *rod.Page) *PageLocator {
	return &PageLocator{page: page}
}

// Find implements keepalive.Locator.
func (l *PageLocator) Find(ctx context.Context, selector string) (keepalive.Element, error) {
	steps := splitSelector(selector)
	if len(steps) == 0 {
		return nil, nil
	}

	els, err := l.page.Context(ctx).Elements(steps[0])
	if err != nil {
		return nil, err
	}
	if els.Empty() {
		return nil, nil
	}
	cur := els.First()

	for _, step := range steps[1:] {
		root, err := cur.Context(ctx).ShadowRoot()
		if err != nil {
			var noRoot *rod.NoShadowRootError
			if errors.As(err, &noRoot) {
				return nil, nil
			}
			return nil, err
		}
		els, err := root.Context(ctx).Elements(step)
		if err != nil {
			return nil, err
		}
		if els.Empty() {
			return nil, nil
		}
		cur = els.First()
	}
	return element{cur}, nil
}

// element activates through the DOM click() method, which dispatches the
// click event without moving the mouse or requiring visibility.
type element struct {
	el *rod.Element
}

func (e element) Activate(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func splitSelector(selector string) []string {
	var steps []string
	for _, s := range strings.Split(selector, PierceSeparator) {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}
