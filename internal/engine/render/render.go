// Package render turns calculator definitions into markup and patches the
// live container a form is mounted on.
package render

import (
	"strings"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/ui"
	"github.com/ehr/medcalc/internal/engine/units"
	"github.com/ehr/medcalc/internal/engine/validation"
)

// FormID is the id of the calculator's outer form element.
func FormID(calc string) string { return calc + "-form" }

// FieldID is the stable element id of a field.
func FieldID(calc, field string) string { return calc + "-" + field }

// UnitID is the element id of a field's unit toggle.
func UnitID(calc, field string) string { return FieldID(calc, field) + "-unit" }

// NoteID is the element id of a field's data-provenance note.
func NoteID(calc, field string) string { return FieldID(calc, field) + "-note" }

// ResultID is the element id of the result region.
func ResultID(calc string) string { return calc + "-result" }

// WarningsID is the element id of the warnings region.
func WarningsID(calc string) string { return calc + "-warnings" }

// PanelID is the element id of a secondary panel.
func PanelID(calc, panel string) string { return calc + "-panel-" + panel }

// PanelResultID is the element id of a secondary panel's result region.
func PanelResultID(calc, panel string) string { return PanelID(calc, panel) + "-result" }

// Render produces the markup for def. It is deterministic: the same
// definition always yields byte-identical output.
func Render(def *schema.Definition) string {
	var body []string
	for _, sec := range def.Sections {
		fields := make([]string, 0, len(sec.Fields))
		for _, spec := range sec.Fields {
			fields = append(fields, renderField(def.ID, FieldID(def.ID, spec.Common().ID), spec))
		}
		body = append(body, ui.Section(sec.Title, fields...))
	}
	body = append(body,
		ui.Region(WarningsID(def.ID), "ui-warnings"),
		ui.Region(ResultID(def.ID), "ui-result-box"),
	)
	for _, p := range def.Panels {
		inputs := make([]string, 0, len(p.Inputs)+1)
		for _, spec := range p.Inputs {
			inputs = append(inputs, renderField(def.ID, PanelID(def.ID, p.ID)+"-"+spec.Common().ID, spec))
		}
		inputs = append(inputs, ui.Region(PanelResultID(def.ID, p.ID), "ui-result-box"))
		body = append(body, ui.Panel(PanelID(def.ID, p.ID), p.Title, strings.Join(inputs, "")))
	}
	if len(def.References) > 0 {
		body = append(body, ui.Section("References", ui.List("ui-references", def.References)))
	}
	return ui.Form(FormID(def.ID), def.ID, def.Title, def.Description, body...)
}

// ExpectedIDs lists the element ids a container must hold for def to mount.
func ExpectedIDs(def *schema.Definition) []string {
	ids := []string{ResultID(def.ID), WarningsID(def.ID)}
	for _, spec := range def.Fields() {
		ids = append(ids, FieldID(def.ID, spec.Common().ID))
	}
	for _, p := range def.Panels {
		ids = append(ids, PanelID(def.ID, p.ID), PanelResultID(def.ID, p.ID))
	}
	return ids
}

func renderField(calc, id string, spec schema.Spec) string {
	f := spec.Common()
	switch s := spec.(type) {
	case schema.Number:
		opts := ui.NumberOpts{
			ID:          id,
			Field:       f.ID,
			Label:       f.Label,
			Step:        s.Step,
			Placeholder: s.Placeholder,
			HelpText:    f.HelpText,
			Required:    f.Required,
		}
		if s.Toggle != nil {
			opts.Units = toggleUnits(s.Toggle)
			opts.DefaultUnit = s.Toggle.Default
		} else {
			opts.Unit = validation.DisplayUnit(s)
		}
		return ui.NumberInput(opts)
	case schema.Radio:
		return ui.RadioGroup(choiceOpts(id, f, s.Options, s.Default))
	case schema.Select:
		return ui.Select(choiceOpts(id, f, s.Options, s.Default))
	case schema.Checkbox:
		return ui.Checkbox(id, f.ID, f.Label, f.HelpText)
	}
	return ""
}

func toggleUnits(t *schema.UnitToggle) []string {
	if len(t.Units) > 0 {
		return t.Units
	}
	if q, ok := units.Lookup(t.Quantity); ok {
		return q.Symbols()
	}
	return []string{t.Default}
}

func choiceOpts(id string, f schema.Field, opts []schema.Option, def string) ui.ChoiceOpts {
	out := ui.ChoiceOpts{ID: id, Field: f.ID, Label: f.Label, HelpText: f.HelpText, Required: f.Required}
	for _, o := range opts {
		out.Options = append(out.Options, ui.Choice{Value: o.Value, Label: o.Label, Checked: o.Value == def})
	}
	return out
}

// ResultMarkup renders a computed result for the result region.
func ResultMarkup(r schema.Result) string {
	var b strings.Builder
	label := r.Label
	if label == "" {
		label = "Result"
	}
	b.WriteString(ui.ResultHeader(label))

	severity := ""
	if r.Band != nil {
		severity = string(r.Band.Severity)
	}
	value := r.Display
	if value == "" {
		value = r.Category
	}
	interpretation := r.Category
	if r.Band != nil && interpretation == "" {
		interpretation = r.Band.Name
	}
	if interpretation == value {
		interpretation = ""
	}
	b.WriteString(ui.ResultItem(label, value, r.Unit, interpretation, severity))

	for _, it := range r.Items {
		b.WriteString(ui.ResultItem(it.Label, it.Value, it.Unit, it.Note, ""))
	}
	if r.Band != nil && r.Band.Recommendation != "" {
		b.WriteString(ui.Alert(alertSeverity(r.Band.Severity), r.Band.Name, r.Band.Recommendation))
	}
	for _, n := range r.Notes {
		b.WriteString(ui.Alert("info", "", n))
	}
	return b.String()
}

// WarningsMarkup renders the non-blocking warnings of a validation pass.
func WarningsMarkup(ws []validation.Warning) string {
	if len(ws) == 0 {
		return ""
	}
	msgs := make([]string, len(ws))
	for i, w := range ws {
		msgs[i] = w.Message
	}
	return ui.Alert("warning", "Check values", strings.Join(msgs, " "))
}

// ErrorMarkup renders the user-facing message for an engine error.
func ErrorMarkup(err calcerr.Error) string {
	return ui.Alert(errorSeverity(err.Kind()), errorTitle(err.Kind()), err.Error())
}

// ErrorsMarkup renders several errors as one message, titled by the first.
func ErrorsMarkup(errs []calcerr.Error) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return ErrorMarkup(errs[0])
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	k := errs[0].Kind()
	return ui.Alert(errorSeverity(k), errorTitle(k), strings.Join(msgs, "; "))
}

func errorTitle(k calcerr.Kind) string {
	switch k {
	case calcerr.KindMissingData:
		return "Missing information"
	case calcerr.KindOutOfRange:
		return "Value out of range"
	case calcerr.KindInvalidFormat:
		return "Invalid value"
	case calcerr.KindCrossField:
		return "Inconsistent values"
	case calcerr.KindDomain:
		return "Cannot calculate"
	}
	return "Error"
}

func errorSeverity(k calcerr.Kind) string {
	if k == calcerr.KindMissingData {
		return "info"
	}
	return "danger"
}

func alertSeverity(s schema.Severity) string {
	if s == "" {
		return "info"
	}
	return string(s)
}
