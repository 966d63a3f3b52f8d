// Package form runs one live calculator instance: it owns the field state,
// the validate/compute pipeline and the writes into the mounted container.
//
// Every mutation is serialized by the form's mutex. Population writes go
// through Populate, which checks the dirty and detached flags at write time,
// so a user edit always wins over a fetched value regardless of which
// goroutine gets there first.
package form

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/render"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/units"
	"github.com/ehr/medcalc/internal/engine/validation"
	"github.com/ehr/medcalc/internal/platform/metrics"
)

var (
	ErrDetached     = errors.New("form is detached")
	ErrUnknownField = errors.New("unknown field")
	ErrUnknownPanel = errors.New("unknown panel")
)

// State is the pipeline state of a form.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateComputing
	StateErrorDisplayed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateComputing:
		return "computing"
	case StateErrorDisplayed:
		return "error"
	}
	return "unknown"
}

// Options configure a mounted form.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// Provenance describes where a populated value came from.
type Provenance struct {
	Text  string
	Stale bool
}

type field struct {
	spec      schema.Spec
	elemID    string
	raw       string
	unit      string
	canonical *float64
	dirty     bool
	populated bool
	note      Provenance
}

// Form is one mounted calculator.
type Form struct {
	mu sync.Mutex

	def     *schema.Definition
	c       *render.Container
	logger  zerolog.Logger
	metrics *metrics.Collector

	fields   map[string]*field
	order    []string
	slot     *schema.Slot
	state    State
	last     *schema.Result
	lastErr  calcerr.Error
	warnings []validation.Warning
	seq      uint64
	subs     []func(schema.Result)
	detached bool
	banner   string

	emitMu  sync.Mutex
	emitted uint64

	populated     chan struct{}
	populatedOnce sync.Once
}

// Mount binds def to the elements of c. Every expected element id must be
// present; the error names the first missing one.
func Mount(def *schema.Definition, c *render.Container, opts Options) (*Form, error) {
	if def == nil {
		return nil, errors.New("mount: nil definition")
	}
	if c == nil {
		return nil, errors.New("mount: nil container")
	}
	if missing := c.Missing(render.ExpectedIDs(def)); len(missing) > 0 {
		return nil, fmt.Errorf("mount %s: element %q not found in container", def.ID, missing[0])
	}

	f := &Form{
		def:       def,
		c:         c,
		logger:    opts.Logger.With().Str("calculator", def.ID).Logger(),
		metrics:   opts.Metrics,
		fields:    make(map[string]*field),
		slot:      schema.NewSlot(),
		populated: make(chan struct{}),
	}
	for _, spec := range def.Fields() {
		id := spec.Common().ID
		fs := &field{spec: spec, elemID: render.FieldID(def.ID, id)}
		switch s := spec.(type) {
		case schema.Number:
			fs.unit = validation.DisplayUnit(s)
		case schema.Radio, schema.Select:
			fs.raw = schema.DefaultValue(spec)
		}
		f.fields[id] = fs
		f.order = append(f.order, id)
	}
	return f, nil
}

// Definition returns the calculator the form renders.
func (f *Form) Definition() *schema.Definition { return f.def }

// Container returns the mounted container.
func (f *Form) Container() *render.Container { return f.c }

// OnResult subscribes fn to every finalized result. fn runs after the
// result region is patched and never concurrently with another emission.
func (f *Form) OnResult(fn func(schema.Result)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}

// Change applies a user edit and recomputes. The field becomes dirty and
// later population writes are discarded for it.
func (f *Form) Change(fieldID, raw string) error {
	out, err := f.change(fieldID, raw)
	if err != nil {
		return err
	}
	f.emit(out)
	return nil
}

func (f *Form) change(fieldID, raw string) (emission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return emission{}, ErrDetached
	}
	fs, ok := f.fields[fieldID]
	if !ok {
		return emission{}, fmt.Errorf("%w: %s", ErrUnknownField, fieldID)
	}
	fs.dirty = true
	fs.raw = strings.TrimSpace(raw)
	fs.canonical = nil
	fs.note = Provenance{}
	f.writeField(fs)
	f.c.SetNote(fs.elemID, "", false)
	return f.runLocked(), nil
}

// ToggleUnit switches a number field's display unit. The canonical value is
// unchanged; only its rendering is reformatted.
func (f *Form) ToggleUnit(fieldID, unit string) error {
	out, err := f.toggleUnit(fieldID, unit)
	if err != nil {
		return err
	}
	f.emit(out)
	return nil
}

func (f *Form) toggleUnit(fieldID, unit string) (emission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return emission{}, ErrDetached
	}
	fs, ok := f.fields[fieldID]
	if !ok {
		return emission{}, fmt.Errorf("%w: %s", ErrUnknownField, fieldID)
	}
	num, ok := fs.spec.(schema.Number)
	if !ok || num.Toggle == nil {
		return emission{}, fmt.Errorf("field %s has no unit toggle", fieldID)
	}
	q := validation.QuantityOf(num)
	unit = units.Normalize(unit)
	if !units.Supports(q, unit) {
		return emission{}, &calcerr.UnsupportedUnitError{Quantity: q, From: fs.unit, To: unit}
	}

	if c, ok := f.canonicalOf(fs, q); ok {
		shown, err := units.FromCanonical(c, q, unit)
		if err != nil {
			return emission{}, err
		}
		fs.canonical = &c
		fs.raw = units.Format(shown, q, unit)
	}
	fs.unit = unit
	f.writeField(fs)
	f.c.SetUnit(fs.elemID, unit)
	return f.runLocked(), nil
}

// Populate writes a fetched numeric value, converting it from unit to the
// field's display unit. It reports whether the write happened; dirty fields,
// unknown targets, unconvertible units and a detached form all discard it.
// Populate does not recompute.
func (f *Form) Populate(fieldID string, value float64, unit string, prov Provenance) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.writable(fieldID)
	if !ok {
		return false
	}
	num, ok := fs.spec.(schema.Number)
	if !ok {
		f.metrics.ObservePopulate("kind")
		return false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		f.logger.Warn().Str("field", fieldID).Msg("skipping population: value is not a finite number")
		f.metrics.ObservePopulate("invalid")
		return false
	}

	q := validation.QuantityOf(num)
	if q == "" || unit == "" {
		fs.raw = strconv.FormatFloat(value, 'f', -1, 64)
		fs.canonical = nil
	} else {
		c, err := units.ToCanonical(value, q, units.Normalize(unit))
		if err != nil {
			f.logger.Warn().Err(err).Str("field", fieldID).Str("unit", unit).Msg("skipping population: unit cannot be converted")
			f.metrics.ObservePopulate("unit")
			return false
		}
		shown, err := units.FromCanonical(c, q, fs.unit)
		if err != nil {
			f.logger.Warn().Err(err).Str("field", fieldID).Str("unit", fs.unit).Msg("skipping population: display unit unknown")
			f.metrics.ObservePopulate("unit")
			return false
		}
		fs.raw = units.Format(shown, q, fs.unit)
		fs.canonical = &c
	}
	f.markPopulated(fs, prov)
	return true
}

// PopulateChoice writes a fetched option into a radio or select field, or
// checks a checkbox when value is "true". Same discard rules as Populate.
func (f *Form) PopulateChoice(fieldID, value string, prov Provenance) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.writable(fieldID)
	if !ok {
		return false
	}
	switch fs.spec.(type) {
	case schema.Radio, schema.Select:
		found := false
		for _, o := range schema.Options(fs.spec) {
			if o.Value == value {
				found = true
				break
			}
		}
		if !found {
			f.logger.Warn().Str("field", fieldID).Str("value", value).Msg("skipping population: no such option")
			f.metrics.ObservePopulate("option")
			return false
		}
	case schema.Checkbox:
	default:
		f.metrics.ObservePopulate("kind")
		return false
	}
	fs.raw = value
	f.markPopulated(fs, prov)
	return true
}

func (f *Form) writable(fieldID string) (*field, bool) {
	if f.detached {
		f.metrics.ObservePopulate("detached")
		return nil, false
	}
	fs, ok := f.fields[fieldID]
	if !ok || !f.c.Has(fs.elemID) {
		f.metrics.ObservePopulate("missing")
		return nil, false
	}
	if fs.dirty {
		f.metrics.ObservePopulate("dirty")
		return nil, false
	}
	return fs, true
}

func (f *Form) markPopulated(fs *field, prov Provenance) {
	fs.populated = true
	fs.note = prov
	f.writeField(fs)
	f.c.SetNote(fs.elemID, prov.Text, prov.Stale)
	f.metrics.ObservePopulate("written")
}

// Recompute runs one pipeline pass over the current state.
func (f *Form) Recompute() {
	if out, ok := f.recompute(); ok {
		f.emit(out)
	}
}

func (f *Form) recompute() (emission, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return emission{}, false
	}
	return f.runLocked(), true
}

// Detach releases the form. Later writes and recomputes are no-ops and no
// further results are emitted.
func (f *Form) Detach() {
	f.mu.Lock()
	f.detached = true
	f.subs = nil
	f.mu.Unlock()
	f.c.Detach()
	f.MarkPopulated()
}

// Detached reports whether Detach was called.
func (f *Form) Detached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

// Populated is closed once auto-population has finished.
func (f *Form) Populated() <-chan struct{} { return f.populated }

// MarkPopulated closes the Populated channel. It is safe to call repeatedly.
func (f *Form) MarkPopulated() {
	f.populatedOnce.Do(func() { close(f.populated) })
}

// SetBanner records the data-summary message shown above the form.
func (f *Form) SetBanner(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banner = msg
}

// Dirty reports whether the user has edited fieldID.
func (f *Form) Dirty(fieldID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.fields[fieldID]
	return ok && fs.dirty
}

// Slot returns a copy of the calculator's scratch state.
func (f *Form) Slot() *schema.Slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot.Clone()
}

func (f *Form) writeField(fs *field) {
	switch fs.spec.(type) {
	case schema.Number:
		f.c.SetValue(fs.elemID, fs.raw)
	case schema.Radio, schema.Select:
		f.c.SetChoice(fs.elemID, fs.raw)
	case schema.Checkbox:
		f.c.SetChecked(fs.elemID, isChecked(fs.raw))
	}
}

func (f *Form) canonicalOf(fs *field, q string) (float64, bool) {
	if fs.canonical != nil {
		return *fs.canonical, true
	}
	if fs.raw == "" {
		return 0, false
	}
	v, ok := validation.ParseNumber(fs.raw)
	if !ok {
		return 0, false
	}
	c, err := units.ToCanonical(v, q, fs.unit)
	if err != nil {
		return 0, false
	}
	return c, true
}

func (f *Form) inputs() map[string]validation.Input {
	in := make(map[string]validation.Input, len(f.fields))
	for id, fs := range f.fields {
		in[id] = validation.Input{Raw: fs.raw, Unit: fs.unit, Canonical: fs.canonical}
	}
	return in
}

func isChecked(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "on", "1", "yes", "checked":
		return true
	}
	return false
}
