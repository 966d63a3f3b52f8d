package calculator

import (
	"time"

	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/validation"
)

// Summary is one entry of the calculator listing.
type Summary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Fields      int      `json:"fields"`
	Panels      []string `json:"panels,omitempty"`
}

// Detail is the metadata of one calculator.
type Detail struct {
	Summary
	Sections   []SectionMeta `json:"sections"`
	Bands      []BandMeta    `json:"bands,omitempty"`
	PanelMeta  []PanelMeta   `json:"panel_inputs,omitempty"`
	References []string      `json:"references,omitempty"`
}

type SectionMeta struct {
	Title  string      `json:"title,omitempty"`
	Fields []FieldMeta `json:"fields"`
}

type FieldMeta struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Kind     string       `json:"kind"`
	Required bool         `json:"required"`
	HelpText string       `json:"help_text,omitempty"`
	Unit     string       `json:"unit,omitempty"`
	Units    []string     `json:"units,omitempty"`
	Options  []OptionMeta `json:"options,omitempty"`
	Default  string       `json:"default,omitempty"`
	Binding  *BindingMeta `json:"binding,omitempty"`
}

type OptionMeta struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type BindingMeta struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

type BandMeta struct {
	Name           string   `json:"name"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	Severity       string   `json:"severity"`
	Recommendation string   `json:"recommendation,omitempty"`
}

type PanelMeta struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Inputs []FieldMeta `json:"inputs"`
}

// CreateFormRequest opens a form. PatientID falls back to the SMART
// launch context when empty.
type CreateFormRequest struct {
	CalculatorID string `json:"calculator_id"`
	PatientID    string `json:"patient_id,omitempty"`
}

type ChangeFieldRequest struct {
	Value string `json:"value"`
}

type ToggleUnitRequest struct {
	Unit string `json:"unit"`
}

type RunPanelRequest struct {
	Inputs map[string]string `json:"inputs"`
}

// FormState is the serialized state of a live form.
type FormState struct {
	FormID string `json:"form_id"`
	form.View
	HTML string `json:"html,omitempty"`
}

// PanelResult is the outcome of a secondary panel run.
type PanelResult struct {
	Result    *form.ResultView `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	HTML      string           `json:"html"`
}

// Instance is a stored form with its bookkeeping.
type Instance struct {
	ID        string
	Form      *form.Form
	PatientID string
	TenantID  string
	CreatedAt time.Time
	LastUsed  time.Time
}

func summarize(def *schema.Definition) Summary {
	s := Summary{
		ID:          def.ID,
		Title:       def.Title,
		Description: def.Description,
		Category:    def.Category,
		Fields:      len(def.Fields()),
	}
	for _, p := range def.Panels {
		s.Panels = append(s.Panels, p.ID)
	}
	return s
}

func describe(def *schema.Definition) Detail {
	d := Detail{Summary: summarize(def), References: def.References}
	for _, sec := range def.Sections {
		sm := SectionMeta{Title: sec.Title}
		for _, f := range sec.Fields {
			sm.Fields = append(sm.Fields, fieldMeta(f))
		}
		d.Sections = append(d.Sections, sm)
	}
	for _, b := range def.Bands {
		d.Bands = append(d.Bands, BandMeta{
			Name:           b.Name,
			Min:            b.Min,
			Max:            b.Max,
			Severity:       string(b.Severity),
			Recommendation: b.Recommendation,
		})
	}
	for _, p := range def.Panels {
		pm := PanelMeta{ID: p.ID, Title: p.Title}
		for _, f := range p.Inputs {
			pm.Inputs = append(pm.Inputs, fieldMeta(f))
		}
		d.PanelMeta = append(d.PanelMeta, pm)
	}
	return d
}

func fieldMeta(spec schema.Spec) FieldMeta {
	c := spec.Common()
	m := FieldMeta{
		ID:       c.ID,
		Label:    c.Label,
		Kind:     string(spec.Kind()),
		Required: c.Required,
		HelpText: c.HelpText,
		Default:  schema.DefaultValue(spec),
	}
	if c.Bind != nil {
		m.Binding = &BindingMeta{System: string(c.Bind.System), Code: c.Bind.Code}
	}
	for _, o := range schema.Options(spec) {
		m.Options = append(m.Options, OptionMeta{Value: o.Value, Label: o.Label})
	}
	if n, ok := spec.(schema.Number); ok {
		m.Unit = validation.DisplayUnit(n)
		if n.Toggle != nil {
			m.Units = n.Toggle.Units
		}
	}
	return m
}
