// Package schema holds the declarative calculator definition types.
package schema

// Kind is the closed set of field kinds.
type Kind string

const (
	KindNumber   Kind = "number"
	KindRadio    Kind = "radio"
	KindCheckbox Kind = "checkbox"
	KindSelect   Kind = "select"
)

// System identifies the coding system of an auto-population binding.
type System string

const (
	SystemLOINC       System = "http://loinc.org"
	SystemSNOMED      System = "http://snomed.info/sct"
	SystemDemographic System = "demographic"
)

// Demographic binding codes.
const (
	DemographicAge    = "age"
	DemographicGender = "gender"
)

// Binding ties a field to a clinical-data lookup.
//
// LOINC codes may hold comma-separated alternatives. For SNOMED bindings on
// radio fields, Present names the option written when an active condition
// matches ("yes" when empty).
type Binding struct {
	System  System
	Code    string
	Present string
}

// LOINC binds a number field to the most recent observation with code.
func LOINC(code string) *Binding { return &Binding{System: SystemLOINC, Code: code} }

// SNOMED binds a radio or checkbox field to an active condition.
func SNOMED(code string) *Binding { return &Binding{System: SystemSNOMED, Code: code} }

// Age binds a number field to the subject's age in years.
func Age() *Binding { return &Binding{System: SystemDemographic, Code: DemographicAge} }

// Gender binds a radio or select field to the subject's administrative gender.
func Gender() *Binding { return &Binding{System: SystemDemographic, Code: DemographicGender} }

// Field is the part common to every field kind.
type Field struct {
	ID       string
	Label    string
	HelpText string
	Required bool
	Bind     *Binding
}

// Common returns the shared part of a field.
func (f Field) Common() Field { return f }

func (Field) sealed() {}

// Spec is one input of a calculator. The set of implementations is closed:
// Number, Radio, Checkbox and Select.
type Spec interface {
	Kind() Kind
	Common() Field
	sealed()
}

// UnitToggle lets the user switch a number field between units of one quantity.
type UnitToggle struct {
	Quantity string
	Units    []string
	Default  string
}

// Number is a numeric input. Bounds are expressed in the canonical unit of
// the field's quantity.
type Number struct {
	Field
	Min            *float64
	Max            *float64
	WarnMin        *float64
	WarnMax        *float64
	Step           string
	Placeholder    string
	Unit           string
	ValidationType string
	Toggle         *UnitToggle
}

func (Number) Kind() Kind { return KindNumber }

// Option is one choice of a radio or select field.
type Option struct {
	Value string
	Label string
}

// Radio is a single-choice group rendered as radio buttons.
type Radio struct {
	Field
	Options []Option
	Default string
}

func (Radio) Kind() Kind { return KindRadio }

// Checkbox is a single boolean input. Escape marks a known-condition
// checkbox that a Gate may use to suppress required checks.
type Checkbox struct {
	Field
	Escape bool
}

func (Checkbox) Kind() Kind { return KindCheckbox }

// Select is a single-choice dropdown.
type Select struct {
	Field
	Options []Option
	Default string
}

func (Select) Kind() Kind { return KindSelect }

// Float returns a pointer to v for optional bounds.
func Float(v float64) *float64 { return &v }

// Options returns the choices of a radio or select spec.
func Options(s Spec) []Option {
	switch f := s.(type) {
	case Radio:
		return f.Options
	case Select:
		return f.Options
	}
	return nil
}

// DefaultValue returns the declared default of a choice field.
func DefaultValue(s Spec) string {
	switch f := s.(type) {
	case Radio:
		return f.Default
	case Select:
		return f.Default
	}
	return ""
}
