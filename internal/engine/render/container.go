package render

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Container is the live document a form is mounted on. It is safe for
// concurrent use; once detached every mutation is a no-op.
type Container struct {
	mu       sync.Mutex
	doc      *goquery.Document
	detached bool
}

// NewContainer parses markup into a container.
func NewContainer(markup string) (*Container, error) {
	c := &Container{}
	if err := c.Load(markup); err != nil {
		return nil, err
	}
	return c, nil
}

// Load replaces the container's content with markup.
func (c *Container) Load(markup string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parsing markup: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
	c.detached = false
	return nil
}

// HTML returns the current content.
func (c *Container) HTML() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return "", nil
	}
	return c.doc.Find("body").Html()
}

// Fragment returns the outer markup of the element with id.
func (c *Container) Fragment(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sel := c.find(id)
	if sel.Length() == 0 {
		return "", false
	}
	out, err := goquery.OuterHtml(sel)
	return out, err == nil
}

// Has reports whether an element with id exists.
func (c *Container) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.find(id).Length() > 0
}

// Missing returns the ids that are not present.
func (c *Container) Missing(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, id := range ids {
		if c.find(id).Length() == 0 {
			out = append(out, id)
		}
	}
	return out
}

// SetValue writes the value attribute of a text or number input.
func (c *Container) SetValue(id, value string) bool {
	return c.mutate(id, func(sel *goquery.Selection) {
		sel.SetAttr("value", value)
	})
}

// Value reads the value attribute of an input.
func (c *Container) Value(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.find(id).AttrOr("value", "")
}

// SetChoice selects value within a radio group or select element.
func (c *Container) SetChoice(id, value string) bool {
	return c.mutate(id, func(sel *goquery.Selection) {
		if goquery.NodeName(sel) == "select" {
			sel.Find("option").RemoveAttr("selected")
			sel.Find(`option[value="`+value+`"]`).SetAttr("selected", "selected")
			return
		}
		sel.Find(`input[type="radio"]`).RemoveAttr("checked")
		sel.Find(`input[value="`+value+`"]`).SetAttr("checked", "checked")
	})
}

// SetChecked checks or clears a checkbox.
func (c *Container) SetChecked(id string, on bool) bool {
	return c.mutate(id, func(sel *goquery.Selection) {
		if on {
			sel.SetAttr("checked", "checked")
		} else {
			sel.RemoveAttr("checked")
		}
	})
}

// SetUnit selects unit in the toggle belonging to the field element id.
func (c *Container) SetUnit(id, unit string) bool {
	return c.mutate(id+"-unit", func(sel *goquery.Selection) {
		sel.Find("option").RemoveAttr("selected")
		sel.Find(`option[value="`+unit+`"]`).SetAttr("selected", "selected")
	})
}

// SetNote writes the provenance note of the field element id.
func (c *Container) SetNote(id, text string, stale bool) bool {
	return c.mutate(id+"-note", func(sel *goquery.Selection) {
		sel.SetHtml(html.EscapeString(text))
		if stale {
			sel.AddClass("ui-stale")
		} else {
			sel.RemoveClass("ui-stale")
		}
	})
}

// Patch replaces the inner markup of a region and shows it. Empty markup
// hides the region.
func (c *Container) Patch(id, markup string) bool {
	return c.mutate(id, func(sel *goquery.Selection) {
		sel.SetHtml(markup)
		if markup == "" {
			sel.SetAttr("hidden", "")
		} else {
			sel.RemoveAttr("hidden")
		}
	})
}

// SetVisible shows or hides an element.
func (c *Container) SetVisible(id string, visible bool) bool {
	return c.mutate(id, func(sel *goquery.Selection) {
		if visible {
			sel.RemoveAttr("hidden")
		} else {
			sel.SetAttr("hidden", "")
		}
	})
}

// Detach marks the container as removed from the page.
func (c *Container) Detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Detached reports whether Detach was called.
func (c *Container) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *Container) mutate(id string, fn func(*goquery.Selection)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return false
	}
	sel := c.find(id)
	if sel.Length() == 0 {
		return false
	}
	fn(sel)
	return true
}

func (c *Container) find(id string) *goquery.Selection {
	if c.doc == nil {
		return &goquery.Selection{}
	}
	return c.doc.Find(`[id="` + id + `"]`)
}
