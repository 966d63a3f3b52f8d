// Package validation checks calculator inputs against their field specs.
//
// Rules run in a fixed order: the calculator's gate, then required, then
// type coercion, then numeric range, then cross-field relations. The first
// failing rule wins for a field; missing fields are aggregated into a single
// MissingDataError across the whole form.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/units"
)

// Input is the raw state of one field.
type Input struct {
	Raw       string
	Unit      string
	Canonical *float64
}

// Result is Valid when Err is nil.
type Result struct {
	Err calcerr.Error
}

// Valid reports whether the field passed.
func (r Result) Valid() bool { return r.Err == nil }

// Warning is a non-blocking note about an unusual value.
type Warning struct {
	Field   string
	Message string
}

// Validate checks one field against its spec. all carries every field of the
// form so the calculator's gate and cross-field rules can see them.
func Validate(def *schema.Definition, spec schema.Spec, in Input, all map[string]Input) Result {
	gated := def.Gate != nil && def.Gate(Parse(def, all))
	v, present, err := checkField(spec, in, gated)
	if err != nil {
		return Result{Err: err}
	}
	if !present {
		return Result{}
	}
	values := Parse(def, all)
	values[spec.Common().ID] = v
	if cerr := checkCross(def, values, spec.Common().ID); cerr != nil {
		return Result{Err: cerr}
	}
	return Result{}
}

// Report is the outcome of validating a whole form.
type Report struct {
	Errors   []calcerr.Error
	Warnings []Warning
	Values   schema.Values
	Gated    bool
}

// OK reports whether the form may be computed.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Message joins every error into the single message shown to the user.
func (r *Report) Message() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Missing returns the aggregated missing-data error, if any.
func (r *Report) Missing() *calcerr.MissingDataError {
	for _, e := range r.Errors {
		if m, ok := e.(*calcerr.MissingDataError); ok {
			return m
		}
	}
	return nil
}

// Evaluate validates every field of def.
func Evaluate(def *schema.Definition, inputs map[string]Input) *Report {
	rep := &Report{Values: schema.Values{}}
	rep.Gated = def.Gate != nil && def.Gate(Parse(def, inputs))

	missing := &calcerr.MissingDataError{}
	var others []calcerr.Error
	for _, spec := range def.Fields() {
		f := spec.Common()
		v, present, err := checkField(spec, inputs[f.ID], rep.Gated)
		if err != nil {
			if m, ok := err.(*calcerr.MissingDataError); ok {
				missing.Fields = append(missing.Fields, m.Fields...)
				missing.Labels = append(missing.Labels, m.Labels...)
				continue
			}
			others = append(others, err)
			continue
		}
		if !present {
			continue
		}
		rep.Values[f.ID] = v
		if w := warn(spec, v); w != nil {
			rep.Warnings = append(rep.Warnings, *w)
		}
	}

	if len(missing.Fields) > 0 {
		rep.Errors = append(rep.Errors, missing)
	}
	rep.Errors = append(rep.Errors, others...)
	if len(rep.Errors) > 0 {
		return rep
	}
	if err := checkCross(def, rep.Values, ""); err != nil {
		rep.Errors = append(rep.Errors, err)
	}
	return rep
}

// Parse reads every input leniently, skipping those that do not parse.
func Parse(def *schema.Definition, inputs map[string]Input) schema.Values {
	out := schema.Values{}
	for _, spec := range def.Fields() {
		id := spec.Common().ID
		in, ok := inputs[id]
		if !ok {
			continue
		}
		if v, present, err := checkField(spec, in, true); err == nil && present {
			out[id] = v
		}
	}
	return out
}

// checkField applies required, coercion and range rules to one field.
// present is false for an empty optional field.
func checkField(spec schema.Spec, in Input, skipRequired bool) (schema.Value, bool, calcerr.Error) {
	f := spec.Common()
	raw := strings.TrimSpace(in.Raw)

	switch s := spec.(type) {
	case schema.Number:
		if raw == "" && in.Canonical == nil {
			if f.Required && !skipRequired {
				return schema.Value{}, false, missingOne(f)
			}
			return schema.Value{}, false, nil
		}
		canonical, err := canonicalNumber(s, in, raw)
		if err != nil {
			return schema.Value{}, false, err
		}
		if err := checkRange(s, canonical, in.Unit); err != nil {
			return schema.Value{}, false, err
		}
		return schema.Value{Kind: schema.KindNumber, Number: canonical}, true, nil

	case schema.Checkbox:
		return schema.Value{Kind: schema.KindCheckbox, Checked: checked(raw)}, true, nil

	case schema.Radio, schema.Select:
		if raw == "" {
			if f.Required && !skipRequired {
				return schema.Value{}, false, missingOne(f)
			}
			return schema.Value{}, false, nil
		}
		for _, o := range schema.Options(spec) {
			if o.Value == raw {
				return schema.Value{Kind: spec.Kind(), Text: raw}, true, nil
			}
		}
		return schema.Value{}, false, &calcerr.InvalidFormatError{Field: f.ID, Label: f.Label, Raw: raw, Choice: true}
	}
	return schema.Value{}, false, &calcerr.InvalidFormatError{Field: f.ID, Label: f.Label, Raw: raw}
}

func missingOne(f schema.Field) *calcerr.MissingDataError {
	label := f.Label
	if label == "" {
		label = f.ID
	}
	return &calcerr.MissingDataError{Fields: []string{f.ID}, Labels: []string{label}}
}

func checked(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "on", "1", "yes", "checked":
		return true
	}
	return false
}

func canonicalNumber(s schema.Number, in Input, raw string) (float64, calcerr.Error) {
	if in.Canonical != nil {
		if !finite(*in.Canonical) {
			return 0, &calcerr.InvalidFormatError{Field: s.ID, Label: s.Label, Raw: raw}
		}
		return *in.Canonical, nil
	}
	v, ok := ParseNumber(raw)
	if !ok {
		return 0, &calcerr.InvalidFormatError{Field: s.ID, Label: s.Label, Raw: raw}
	}
	q := QuantityOf(s)
	if q == "" || in.Unit == "" {
		return v, nil
	}
	c, cerr := units.ToCanonical(v, q, in.Unit)
	if cerr != nil {
		if ce, ok := cerr.(calcerr.Error); ok {
			return 0, ce
		}
		return 0, &calcerr.UnsupportedUnitError{Quantity: q, From: in.Unit}
	}
	return c, nil
}

// ParseNumber reads a plain decimal number such as "-1.5" or "2e3". Hex
// floats, NaN, infinities and values that overflow are rejected.
func ParseNumber(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !finite(v) {
		return 0, false
	}
	return v, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func bounds(s schema.Number) (min, max, warnMin, warnMax *float64) {
	p := Presets[s.ValidationType]
	min, max, warnMin, warnMax = p.Min, p.Max, p.WarnMin, p.WarnMax
	if s.Min != nil {
		min = s.Min
	}
	if s.Max != nil {
		max = s.Max
	}
	if s.WarnMin != nil {
		warnMin = s.WarnMin
	}
	if s.WarnMax != nil {
		warnMax = s.WarnMax
	}
	return
}

// checkRange compares in canonical units and reports in the display unit.
func checkRange(s schema.Number, canonical float64, displayUnit string) calcerr.Error {
	min, max, _, _ := bounds(s)
	var bound float64
	var below bool
	switch {
	case min != nil && canonical < *min:
		bound, below = *min, true
	case max != nil && canonical > *max:
		bound = *max
	default:
		return nil
	}

	err := &calcerr.OutOfRangeError{Field: s.ID, Label: s.Label, Value: canonical, Bound: bound, Below: below}
	q := QuantityOf(s)
	if q == "" {
		err.Unit = DisplayUnit(s)
		return err
	}
	err.Unit = units.Canonical(q)
	if displayUnit != "" && units.Normalize(displayUnit) != err.Unit {
		v, verr := units.FromCanonical(canonical, q, displayUnit)
		b, berr := units.FromCanonical(bound, q, displayUnit)
		if verr == nil && berr == nil {
			err.Value, err.Bound, err.Unit = v, b, units.Normalize(displayUnit)
		}
	}
	return err
}

func warn(spec schema.Spec, v schema.Value) *Warning {
	s, ok := spec.(schema.Number)
	if !ok {
		return nil
	}
	_, _, warnMin, warnMax := bounds(s)
	if (warnMin != nil && v.Number < *warnMin) || (warnMax != nil && v.Number > *warnMax) {
		label := s.Label
		if label == "" {
			label = s.ID
		}
		return &Warning{Field: s.ID, Message: fmt.Sprintf("%s is unusual; double-check.", label)}
	}
	return nil
}

// checkCross runs cross-field rules whose fields all have values. When field
// is non-empty only rules involving it run.
func checkCross(def *schema.Definition, values schema.Values, field string) calcerr.Error {
	for _, rule := range def.CrossRules {
		if field != "" && !contains(rule.Fields, field) {
			continue
		}
		ready := true
		for _, id := range rule.Fields {
			if !values.Has(id) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if msg := rule.Check(values); msg != "" {
			return &calcerr.CrossFieldError{Fields: rule.Fields, Message: msg}
		}
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
