package schema

import "strings"

// Value is one parsed field value. Numbers are in the canonical unit.
type Value struct {
	Kind    Kind
	Number  float64
	Text    string
	Checked bool
}

// Values maps field ids to parsed values. Absent fields have no entry.
type Values map[string]Value

// Number returns a numeric value in canonical units.
func (v Values) Number(id string) (float64, bool) {
	x, ok := v[id]
	if !ok || x.Kind != KindNumber {
		return 0, false
	}
	return x.Number, true
}

// Text returns the selected option of a radio or select field.
func (v Values) Text(id string) string {
	return v[id].Text
}

// Bool reports a checked checkbox or a yes/true choice.
func (v Values) Bool(id string) bool {
	x, ok := v[id]
	if !ok {
		return false
	}
	if x.Kind == KindCheckbox {
		return x.Checked
	}
	switch strings.ToLower(x.Text) {
	case "yes", "true", "1":
		return true
	}
	return false
}

// Has reports whether a value is present.
func (v Values) Has(id string) bool {
	_, ok := v[id]
	return ok
}

// Severity drives result styling.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Band is a named interpretation range. Bounds are inclusive-lower and
// exclusive-upper unless UpperInclusive is set; nil means unbounded.
type Band struct {
	Name           string
	Min            *float64
	Max            *float64
	UpperInclusive bool
	Severity       Severity
	Recommendation string
}

// Contains reports whether v falls within the band.
func (b Band) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil {
		if b.UpperInclusive {
			return v <= *b.Max
		}
		return v < *b.Max
	}
	return true
}

// MatchBand maps a result to the first band containing it. Categorical
// results match by band name; bands without bounds only match by name.
func MatchBand(bands []Band, r Result) *Band {
	for i := range bands {
		b := bands[i]
		if r.Category != "" {
			if strings.EqualFold(b.Name, r.Category) {
				return &b
			}
			continue
		}
		if b.Min == nil && b.Max == nil {
			continue
		}
		if b.Contains(r.Value) {
			return &b
		}
	}
	return nil
}

// Item is one rendered line of a result.
type Item struct {
	Label string
	Value string
	Unit  string
	Note  string
}

// Result is the outcome of one calculate call.
type Result struct {
	Label    string
	Value    float64
	Display  string
	Unit     string
	Category string
	Band     *Band
	Items    []Item
	Notes    []string
}

// Slot is per form instance scratch state shared between a calculator's
// main computation and its secondary panels.
type Slot struct {
	m map[string]any
}

// NewSlot returns an empty slot.
func NewSlot() *Slot { return &Slot{m: map[string]any{}} }

// Reset clears the slot.
func (s *Slot) Reset() { s.m = map[string]any{} }

// Set stores v under key.
func (s *Slot) Set(key string, v any) {
	if s.m == nil {
		s.m = map[string]any{}
	}
	s.m[key] = v
}

// Get returns the value stored under key.
func (s *Slot) Get(key string) (any, bool) {
	v, ok := s.m[key]
	return v, ok
}

// Float returns a float stored under key.
func (s *Slot) Float(key string) (float64, bool) {
	v, ok := s.m[key].(float64)
	return v, ok
}

// Clone returns a shallow copy.
func (s *Slot) Clone() *Slot {
	c := NewSlot()
	for k, v := range s.m {
		c.m[k] = v
	}
	return c
}
