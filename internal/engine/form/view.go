package form

import (
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/validation"
)

// FieldView is the externally visible state of one field.
type FieldView struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Dirty     bool   `json:"dirty"`
	Populated bool   `json:"populated"`
	Note      string `json:"note,omitempty"`
	Stale     bool   `json:"stale,omitempty"`
}

// ItemView is one rendered result line.
type ItemView struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
	Note  string `json:"note,omitempty"`
}

// ResultView is a finalized result.
type ResultView struct {
	Label          string     `json:"label"`
	Value          float64    `json:"value"`
	Display        string     `json:"display"`
	Unit           string     `json:"unit,omitempty"`
	Category       string     `json:"category,omitempty"`
	Band           string     `json:"band,omitempty"`
	Severity       string     `json:"severity,omitempty"`
	Recommendation string     `json:"recommendation,omitempty"`
	Items          []ItemView `json:"items,omitempty"`
	Notes          []string   `json:"notes,omitempty"`
}

// View is a point-in-time copy of a form's state.
type View struct {
	Calculator string      `json:"calculator"`
	State      string      `json:"state"`
	Pass       uint64      `json:"pass"`
	Fields     []FieldView `json:"fields"`
	Result     *ResultView `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Banner     string      `json:"banner,omitempty"`
	Detached   bool        `json:"detached,omitempty"`
}

// NewResultView converts a result for serialization.
func NewResultView(r schema.Result) *ResultView {
	v := &ResultView{
		Label:    r.Label,
		Value:    r.Value,
		Display:  r.Display,
		Unit:     r.Unit,
		Category: r.Category,
		Notes:    r.Notes,
	}
	if r.Band != nil {
		v.Band = r.Band.Name
		v.Severity = string(r.Band.Severity)
		v.Recommendation = r.Band.Recommendation
	}
	for _, it := range r.Items {
		v.Items = append(v.Items, ItemView(it))
	}
	return v
}

// View returns the form's current state.
func (f *Form) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		Calculator: f.def.ID,
		State:      f.state.String(),
		Pass:       f.seq,
		Banner:     f.banner,
		Detached:   f.detached,
	}
	for _, id := range f.order {
		fs := f.fields[id]
		v.Fields = append(v.Fields, FieldView{
			ID:        id,
			Kind:      string(fs.spec.Kind()),
			Value:     fs.raw,
			Unit:      fs.unit,
			Dirty:     fs.dirty,
			Populated: fs.populated,
			Note:      fs.note.Text,
			Stale:     fs.note.Stale,
		})
	}
	if f.last != nil {
		v.Result = NewResultView(*f.last)
	}
	if f.lastErr != nil {
		v.Error = f.lastErr.Error()
		v.ErrorKind = string(f.lastErr.Kind())
	}
	for _, w := range f.warnings {
		v.Warnings = append(v.Warnings, w.Message)
	}
	return v
}

// State returns the pipeline state.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the latest result, or false when none is displayed.
func (f *Form) Result() (schema.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return schema.Result{}, false
	}
	return *f.last, true
}

// Err returns the error currently displayed, if any.
func (f *Form) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastErr == nil {
		return nil
	}
	return f.lastErr
}

// Value returns a field's raw value and display unit.
func (f *Form) Value(fieldID string) (string, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.fields[fieldID]
	if !ok {
		return "", "", false
	}
	return fs.raw, fs.unit, true
}

// Canonical returns a number field's value in its canonical unit.
func (f *Form) Canonical(fieldID string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.fields[fieldID]
	if !ok {
		return 0, false
	}
	num, ok := fs.spec.(schema.Number)
	if !ok {
		return 0, false
	}
	q := validation.QuantityOf(num)
	if q == "" {
		if fs.canonical != nil {
			return *fs.canonical, true
		}
		return validation.ParseNumber(fs.raw)
	}
	return f.canonicalOf(fs, q)
}
