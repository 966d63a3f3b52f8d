package schema

// Section groups fields under a heading.
type Section struct {
	Title  string
	Fields []Spec
}

// Gate suppresses required-field checks when it returns true.
// It sees whatever values parse at the time it runs.
type Gate func(Values) bool

// WhenChecked gates validation on a known-condition checkbox.
func WhenChecked(fieldID string) Gate {
	return func(v Values) bool { return v.Bool(fieldID) }
}

// CrossRule is a relation between fields. Check returns a message when the
// relation is violated and "" otherwise. It only runs once every field in
// Fields has a valid value.
type CrossRule struct {
	Fields []string
	Check  func(Values) string
}

// CalculateFunc is a calculator's pure scoring function. The slot is reset
// before every call.
type CalculateFunc func(v Values, slot *Slot) (Result, error)

// Panel is a secondary panel shown once a result exists. Run reads the
// calculator's slot and the panel's own inputs.
type Panel struct {
	ID     string
	Title  string
	Inputs []Spec
	Run    func(slot *Slot, inputs Values) (Result, error)
}

// Definition is the immutable declaration of one calculator.
type Definition struct {
	ID          string
	Title       string
	Description string
	// Category groups calculators in the catalog, e.g. "cardiovascular".
	Category   string
	Sections   []Section
	Calculate  CalculateFunc
	Gate       Gate
	CrossRules []CrossRule
	Bands      []Band
	Panels     []Panel
	References []string
}

// Fields returns every field spec in declaration order.
func (d *Definition) Fields() []Spec {
	var out []Spec
	for _, s := range d.Sections {
		out = append(out, s.Fields...)
	}
	return out
}

// Field looks up a field spec by id.
func (d *Definition) Field(id string) (Spec, bool) {
	for _, s := range d.Sections {
		for _, f := range s.Fields {
			if f.Common().ID == id {
				return f, true
			}
		}
	}
	return nil, false
}

// Panel looks up a secondary panel by id.
func (d *Definition) Panel(id string) (Panel, bool) {
	for _, p := range d.Panels {
		if p.ID == id {
			return p, true
		}
	}
	return Panel{}, false
}

// Bound returns the fields that carry an auto-population binding.
func (d *Definition) Bound() []Spec {
	var out []Spec
	for _, f := range d.Fields() {
		if f.Common().Bind != nil {
			out = append(out, f)
		}
	}
	return out
}
