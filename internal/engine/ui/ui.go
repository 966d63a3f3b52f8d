// Package ui contains stateless markup helpers. Every function is pure
// string in, string out.
package ui

import (
	"fmt"
	"html"
	"strings"
)

func esc(s string) string { return html.EscapeString(s) }

func attr(name, value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf(` %s="%s"`, name, esc(value))
}

// Form wraps a calculator's body.
func Form(id, calculator, title, description string, body ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<form id="%s" class="calculator" data-calculator="%s" novalidate>`, esc(id), esc(calculator))
	fmt.Fprintf(&b, `<header class="calculator-header"><h2>%s</h2>`, esc(title))
	if description != "" {
		fmt.Fprintf(&b, `<p class="calculator-description">%s</p>`, esc(description))
	}
	b.WriteString(`</header>`)
	for _, part := range body {
		b.WriteString(part)
	}
	b.WriteString(`</form>`)
	return b.String()
}

// Section groups inputs under a title.
func Section(title string, body ...string) string {
	var b strings.Builder
	b.WriteString(`<section class="ui-section">`)
	if title != "" {
		fmt.Fprintf(&b, `<div class="ui-section-title">%s</div>`, esc(title))
	}
	for _, part := range body {
		b.WriteString(part)
	}
	b.WriteString(`</section>`)
	return b.String()
}

// Alert renders a message box; severity is success, info, warning or danger.
func Alert(severity, title, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ui-alert ui-alert-%s" role="alert">`, esc(severity))
	if title != "" {
		fmt.Fprintf(&b, `<strong>%s</strong> `, esc(title))
	}
	fmt.Fprintf(&b, `<span class="ui-alert-message">%s</span></div>`, esc(message))
	return b.String()
}

// NumberOpts configures NumberInput.
type NumberOpts struct {
	ID          string
	Field       string
	Label       string
	Step        string
	Placeholder string
	HelpText    string
	Unit        string
	Units       []string
	DefaultUnit string
	Required    bool
}

// NumberInput renders a numeric input with an optional unit toggle.
func NumberInput(o NumberOpts) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ui-input-group" data-field="%s">`, esc(o.Field))
	fmt.Fprintf(&b, `<label for="%s">%s%s</label>`, esc(o.ID), esc(o.Label), requiredMark(o.Required))
	b.WriteString(`<div class="ui-input-wrapper">`)
	step := o.Step
	if step == "" {
		step = "any"
	}
	fmt.Fprintf(&b, `<input type="number" id="%s" name="%s" data-field="%s" step="%s"%s value="">`,
		esc(o.ID), esc(o.Field), esc(o.Field), esc(step), attr("placeholder", o.Placeholder))
	switch {
	case len(o.Units) > 0:
		b.WriteString(UnitToggle(o.ID+"-unit", o.Field, o.Units, o.DefaultUnit))
	case o.Unit != "":
		fmt.Fprintf(&b, `<span class="ui-unit">%s</span>`, esc(o.Unit))
	}
	b.WriteString(`</div>`)
	b.WriteString(help(o.HelpText))
	fmt.Fprintf(&b, `<small class="ui-data-note" id="%s-note"></small>`, esc(o.ID))
	b.WriteString(`</div>`)
	return b.String()
}

// UnitToggle renders the unit selector of a number input.
func UnitToggle(id, field string, units []string, selected string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<select class="ui-unit-toggle" id="%s" data-unit-for="%s">`, esc(id), esc(field))
	for _, u := range units {
		sel := ""
		if u == selected {
			sel = ` selected`
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, esc(u), sel, esc(u))
	}
	b.WriteString(`</select>`)
	return b.String()
}

// Choice is one option of a radio group or select.
type Choice struct {
	Value   string
	Label   string
	Checked bool
}

// ChoiceOpts configures RadioGroup and Select.
type ChoiceOpts struct {
	ID       string
	Field    string
	Label    string
	HelpText string
	Options  []Choice
	Required bool
}

// RadioGroup renders a group of radio buttons sharing one field.
func RadioGroup(o ChoiceOpts) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ui-radio-group" id="%s" data-field="%s" role="radiogroup">`, esc(o.ID), esc(o.Field))
	fmt.Fprintf(&b, `<div class="ui-group-label">%s%s</div>`, esc(o.Label), requiredMark(o.Required))
	for _, c := range o.Options {
		checked := ""
		if c.Checked {
			checked = ` checked`
		}
		fmt.Fprintf(&b, `<label class="ui-radio"><input type="radio" name="%s" id="%s-%s" value="%s"%s> %s</label>`,
			esc(o.ID), esc(o.ID), esc(c.Value), esc(c.Value), checked, esc(c.Label))
	}
	b.WriteString(help(o.HelpText))
	fmt.Fprintf(&b, `<small class="ui-data-note" id="%s-note"></small>`, esc(o.ID))
	b.WriteString(`</div>`)
	return b.String()
}

// Select renders a dropdown.
func Select(o ChoiceOpts) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ui-input-group" data-field="%s">`, esc(o.Field))
	fmt.Fprintf(&b, `<label for="%s">%s%s</label>`, esc(o.ID), esc(o.Label), requiredMark(o.Required))
	fmt.Fprintf(&b, `<select id="%s" name="%s" data-field="%s">`, esc(o.ID), esc(o.Field), esc(o.Field))
	b.WriteString(`<option value="">Select...</option>`)
	for _, c := range o.Options {
		sel := ""
		if c.Checked {
			sel = ` selected`
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, esc(c.Value), sel, esc(c.Label))
	}
	b.WriteString(`</select>`)
	b.WriteString(help(o.HelpText))
	fmt.Fprintf(&b, `<small class="ui-data-note" id="%s-note"></small>`, esc(o.ID))
	b.WriteString(`</div>`)
	return b.String()
}

// Checkbox renders a single checkbox.
func Checkbox(id, field, label, helpText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ui-checkbox-group" data-field="%s">`, esc(field))
	fmt.Fprintf(&b, `<label class="ui-checkbox"><input type="checkbox" id="%s" name="%s" data-field="%s" value="true"> %s</label>`,
		esc(id), esc(field), esc(field), esc(label))
	b.WriteString(help(helpText))
	fmt.Fprintf(&b, `<small class="ui-data-note" id="%s-note"></small>`, esc(id))
	b.WriteString(`</div>`)
	return b.String()
}

// Region renders an empty, hidden region that is patched later.
func Region(id, class string) string {
	return fmt.Sprintf(`<div id="%s" class="%s" aria-live="polite" hidden></div>`, esc(id), esc(class))
}

// ResultHeader renders the headline of a result.
func ResultHeader(title string) string {
	return fmt.Sprintf(`<div class="ui-result-header">%s</div>`, esc(title))
}

// ResultItem renders one labelled value.
func ResultItem(label, value, unit, note, severity string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="ui-result-item%s">`, severityClass(severity))
	fmt.Fprintf(&b, `<span class="ui-result-label">%s</span>`, esc(label))
	fmt.Fprintf(&b, `<span class="ui-result-value">%s</span>`, esc(value))
	if unit != "" {
		fmt.Fprintf(&b, `<span class="ui-result-unit">%s</span>`, esc(unit))
	}
	if note != "" {
		fmt.Fprintf(&b, `<span class="ui-result-note">%s</span>`, esc(note))
	}
	b.WriteString(`</div>`)
	return b.String()
}

// Panel renders a secondary panel around body, hidden until shown.
func Panel(id, title, body string) string {
	return fmt.Sprintf(`<div id="%s" class="ui-panel" hidden><div class="ui-panel-title">%s</div>%s</div>`,
		esc(id), esc(title), body)
}

// List renders an unordered list.
func List(class string, items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<ul class="%s">`, esc(class))
	for _, it := range items {
		fmt.Fprintf(&b, `<li>%s</li>`, esc(it))
	}
	b.WriteString(`</ul>`)
	return b.String()
}

func help(text string) string {
	if text == "" {
		return ""
	}
	return fmt.Sprintf(`<small class="ui-help">%s</small>`, esc(text))
}

func requiredMark(required bool) string {
	if required {
		return ` <span class="ui-required">*</span>`
	}
	return ""
}

func severityClass(severity string) string {
	if severity == "" {
		return ""
	}
	return " ui-" + esc(severity)
}
