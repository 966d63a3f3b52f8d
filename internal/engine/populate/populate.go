// Package populate fills a mounted form from the patient's record.
package populate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/engine/schema"
)

// Summary reports which bound fields were filled.
type Summary struct {
	Loaded  []string
	Missing []string
	Stale   []string
	Skipped []string
}

// Message renders the data banner text.
func (s Summary) Message() string {
	total := len(s.Loaded) + len(s.Missing)
	if total == 0 {
		return ""
	}
	msg := fmt.Sprintf("Loaded %d of %d values from the patient record.", len(s.Loaded), total)
	if len(s.Missing) > 0 {
		msg += " Please enter: " + strings.Join(s.Missing, ", ") + "."
	}
	if len(s.Stale) > 0 {
		msg += " Older than recommended: " + strings.Join(s.Stale, ", ") + "."
	}
	return msg
}

// Orchestrator issues one fetch per bound field and writes the results
// into the form.
type Orchestrator struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{logger: logger}
}

// Populate fetches every binding of f concurrently, writes what arrives into
// non-dirty fields and then runs exactly one recompute. A nil subject is
// looked up through the adapter. Populated is released on return.
func (o *Orchestrator) Populate(ctx context.Context, f *form.Form, a *clinicaldata.Adapter, subject *clinicaldata.Subject) Summary {
	defer f.MarkPopulated()
	def := f.Definition()
	log := o.logger.With().Str("calculator", def.ID).Logger()

	if subject == nil && !a.Standalone() {
		subject = a.GetSubject(ctx)
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	record := func(label string, loaded, stale bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case loaded:
			sum.Loaded = append(sum.Loaded, label)
			if stale {
				sum.Stale = append(sum.Stale, label)
			}
		default:
			sum.Missing = append(sum.Missing, label)
		}
	}
	skip := func(label string) {
		mu.Lock()
		sum.Skipped = append(sum.Skipped, label)
		mu.Unlock()
	}

	var wg conc.WaitGroup
	for _, spec := range def.Bound() {
		fld := spec.Common()
		label := fld.Label
		if label == "" {
			label = fld.ID
		}
		switch fld.Bind.System {
		case schema.SystemDemographic:
			loaded := o.demographic(f, spec, subject, a)
			if f.Dirty(fld.ID) {
				skip(label)
				continue
			}
			record(label, loaded, false)

		case schema.SystemLOINC:
			wg.Go(func() {
				snap := latest(ctx, a, fld.Bind.Code)
				if snap == nil {
					record(label, false, false)
					return
				}
				prov := provenance(snap)
				if f.Populate(fld.ID, snap.Value, snap.Unit, prov) {
					record(label, true, snap.Stale)
					return
				}
				log.Debug().Str("field", fld.ID).Msg("population write discarded")
				skip(label)
			})

		case schema.SystemSNOMED:
			wg.Go(func() {
				conds := a.GetConditions(ctx, splitCodes(fld.Bind.Code))
				if len(conds) == 0 {
					return
				}
				value := "true"
				if _, ok := spec.(schema.Radio); ok {
					value = fld.Bind.Present
					if value == "" {
						value = "yes"
					}
				}
				prov := form.Provenance{Text: "From problem list: " + conditionName(conds[0])}
				if !f.PopulateChoice(fld.ID, value, prov) {
					skip(label)
				}
			})
		}
	}
	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Str("panic", r.String()).Msg("population task panicked")
	}

	f.SetBanner(sum.Message())
	f.Recompute()
	log.Info().
		Int("loaded", len(sum.Loaded)).
		Int("missing", len(sum.Missing)).
		Int("skipped", len(sum.Skipped)).
		Msg("auto-population finished")
	return sum
}

func (o *Orchestrator) demographic(f *form.Form, spec schema.Spec, subject *clinicaldata.Subject, a *clinicaldata.Adapter) bool {
	if subject == nil {
		return false
	}
	fld := spec.Common()
	prov := form.Provenance{Text: "From patient record"}
	switch fld.Bind.Code {
	case schema.DemographicAge:
		age, ok := subject.Age(a.Now())
		if !ok {
			return false
		}
		return f.Populate(fld.ID, float64(age), "", prov)
	case schema.DemographicGender:
		g := strings.ToLower(strings.TrimSpace(subject.Gender))
		if g == "" {
			return false
		}
		for _, opt := range schema.Options(spec) {
			if strings.EqualFold(opt.Value, g) {
				return f.PopulateChoice(fld.ID, opt.Value, prov)
			}
		}
	}
	return false
}

// latest tries each comma-separated alternative code in order.
func latest(ctx context.Context, a *clinicaldata.Adapter, codes string) *clinicaldata.Snapshot {
	for _, code := range splitCodes(codes) {
		if snap := a.GetObservation(ctx, code); snap != nil {
			return snap
		}
	}
	return nil
}

func splitCodes(codes string) []string {
	var out []string
	for _, c := range strings.Split(codes, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func provenance(s *clinicaldata.Snapshot) form.Provenance {
	text := "From patient record"
	if s.AgeText != "" {
		text = "Last recorded " + s.AgeText
	}
	if s.Stale {
		text += " (older than recommended)"
	}
	return form.Provenance{Text: text, Stale: s.Stale}
}

func conditionName(c clinicaldata.Condition) string {
	if c.Display != "" {
		return c.Display
	}
	if c.Code != "" {
		return c.Code
	}
	return "active condition"
}
