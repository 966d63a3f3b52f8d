package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/units"
	"github.com/ehr/medcalc/internal/engine/validation"
)

var ErrUnknownCalculator = errors.New("unknown calculator")

// Registry holds the calculator definitions known to an engine. Definitions
// are checked once when registered and treated as immutable afterwards.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*schema.Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*schema.Definition)}
}

// Register validates def and adds it. A unit outside the catalog is
// reported as *calcerr.UnsupportedUnitError.
func (r *Registry) Register(def *schema.Definition) error {
	if err := check(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.ID]; dup {
		return fmt.Errorf("calculator %q already registered", def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// MustRegister registers every definition and panics on the first failure.
func (r *Registry) MustRegister(defs ...*schema.Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(fmt.Sprintf("register calculator: %v", err))
		}
	}
}

// Get returns the definition with id.
func (r *Registry) Get(id string) (*schema.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalculator, id)
	}
	return d, nil
}

// List returns every definition ordered by id.
func (r *Registry) List() []*schema.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func check(def *schema.Definition) error {
	if def == nil {
		return errors.New("nil definition")
	}
	if def.ID == "" {
		return errors.New("definition has no id")
	}
	if def.Calculate == nil {
		return fmt.Errorf("%s: no calculate function", def.ID)
	}
	if err := checkFields(def.ID, def.Fields()); err != nil {
		return err
	}
	if err := checkBands(def.ID, def.Bands); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, p := range def.Panels {
		if p.ID == "" || p.Run == nil {
			return fmt.Errorf("%s: panel %q needs an id and a run function", def.ID, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("%s: duplicate panel %q", def.ID, p.ID)
		}
		seen[p.ID] = true
		if err := checkFields(def.ID+"/"+p.ID, p.Inputs); err != nil {
			return err
		}
	}
	return nil
}

func checkFields(scope string, specs []schema.Spec) error {
	seen := map[string]bool{}
	for _, spec := range specs {
		f := spec.Common()
		if f.ID == "" {
			return fmt.Errorf("%s: field without id", scope)
		}
		if seen[f.ID] {
			return fmt.Errorf("%s: duplicate field %q", scope, f.ID)
		}
		seen[f.ID] = true

		switch s := spec.(type) {
		case schema.Number:
			if err := checkNumber(scope, s); err != nil {
				return err
			}
		case schema.Radio, schema.Select:
			opts := schema.Options(spec)
			if len(opts) == 0 {
				return fmt.Errorf("%s: field %q has no options", scope, f.ID)
			}
			if d := schema.DefaultValue(spec); d != "" && !hasOption(opts, d) {
				return fmt.Errorf("%s: default %q of field %q is not an option", scope, d, f.ID)
			}
			if f.Bind != nil && f.Bind.System == schema.SystemSNOMED && spec.Kind() == schema.KindRadio {
				present := f.Bind.Present
				if present == "" {
					present = "yes"
				}
				if !hasOption(opts, present) {
					return fmt.Errorf("%s: field %q has no %q option for its condition binding", scope, f.ID, present)
				}
			}
		}
		if err := checkBinding(scope, spec); err != nil {
			return err
		}
	}
	return nil
}

func checkNumber(scope string, s schema.Number) error {
	if s.ValidationType != "" {
		if _, ok := validation.Presets[s.ValidationType]; !ok {
			return fmt.Errorf("%s: field %q has unknown validation type %q", scope, s.ID, s.ValidationType)
		}
	}
	if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return fmt.Errorf("%s: field %q has min above max", scope, s.ID)
	}
	q := validation.QuantityOf(s)
	if s.Toggle == nil {
		if q != "" {
			if _, ok := units.Lookup(q); !ok {
				return &calcerr.UnsupportedUnitError{Quantity: q}
			}
		}
		return nil
	}
	toggled, ok := units.Lookup(q)
	if !ok {
		return &calcerr.UnsupportedUnitError{Quantity: q}
	}
	vq, ok := validation.QuantityFor(s.ValidationType)
	if !ok {
		return fmt.Errorf("%s: field %q has a unit toggle but validation type %q has no quantity", scope, s.ID, s.ValidationType)
	}
	if limited, ok := units.Lookup(vq); !ok || limited != toggled {
		return fmt.Errorf("%s: field %q toggles %s but validation type %q is measured in %s", scope, s.ID, q, s.ValidationType, vq)
	}
	for _, u := range s.Toggle.Units {
		if !units.Supports(q, u) {
			return &calcerr.UnsupportedUnitError{Quantity: q, From: units.Canonical(q), To: u}
		}
	}
	if !units.Supports(q, s.Toggle.Default) {
		return &calcerr.UnsupportedUnitError{Quantity: q, From: units.Canonical(q), To: s.Toggle.Default}
	}
	if len(s.Toggle.Units) > 0 && !contains(s.Toggle.Units, s.Toggle.Default) {
		return fmt.Errorf("%s: field %q toggle default %q is not among its units", scope, s.ID, s.Toggle.Default)
	}
	return nil
}

func checkBinding(scope string, spec schema.Spec) error {
	b := spec.Common().Bind
	if b == nil {
		return nil
	}
	id := spec.Common().ID
	k := spec.Kind()
	ok := false
	switch b.System {
	case schema.SystemLOINC:
		ok = k == schema.KindNumber && b.Code != ""
	case schema.SystemSNOMED:
		ok = (k == schema.KindRadio || k == schema.KindCheckbox) && b.Code != ""
	case schema.SystemDemographic:
		switch b.Code {
		case schema.DemographicAge:
			ok = k == schema.KindNumber
		case schema.DemographicGender:
			ok = k == schema.KindRadio || k == schema.KindSelect
		}
	}
	if !ok {
		return fmt.Errorf("%s: field %q cannot bind %s %q as a %s", scope, id, b.System, b.Code, k)
	}
	return nil
}

// checkBands requires numeric bands to be ordered and non-overlapping.
// Categorical bands (no bounds) are matched by name and skipped.
func checkBands(scope string, bands []schema.Band) error {
	var prev *schema.Band
	for i := range bands {
		b := bands[i]
		if b.Name == "" {
			return fmt.Errorf("%s: band %d has no name", scope, i)
		}
		if b.Min == nil && b.Max == nil {
			continue
		}
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return fmt.Errorf("%s: band %q has min above max", scope, b.Name)
		}
		if prev != nil {
			if prev.Max == nil || b.Min == nil || *b.Min < *prev.Max {
				return fmt.Errorf("%s: band %q overlaps %q", scope, b.Name, prev.Name)
			}
		}
		prev = &bands[i]
	}
	return nil
}

func hasOption(opts []schema.Option, v string) bool {
	for _, o := range opts {
		if o.Value == v {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
