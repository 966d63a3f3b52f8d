package form

import (
	"errors"
	"fmt"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/render"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/engine/validation"
)

type emission struct {
	seq    uint64
	result *schema.Result
	subs   []func(schema.Result)
}

// runLocked performs one validate/compute pass. Callers hold f.mu and hand
// the returned emission to emit after unlocking.
func (f *Form) runLocked() emission {
	f.seq++
	seq := f.seq

	f.state = StateValidating
	rep := validation.Evaluate(f.def, f.inputs())
	f.warnings = rep.Warnings
	f.c.Patch(render.WarningsID(f.def.ID), render.WarningsMarkup(rep.Warnings))
	if !rep.OK() {
		f.fail(rep.Errors)
		f.metrics.ObservePass(f.def.ID, "invalid")
		return emission{seq: seq}
	}

	f.state = StateComputing
	res, err := f.calculate(rep.Values)
	if err != nil {
		f.fail([]calcerr.Error{err})
		f.metrics.ObservePass(f.def.ID, "error")
		return emission{seq: seq}
	}
	if res.Band == nil {
		res.Band = schema.MatchBand(f.def.Bands, res)
	}
	f.last = &res
	f.lastErr = nil
	f.c.Patch(render.ResultID(f.def.ID), render.ResultMarkup(res))
	f.showPanels()
	f.state = StateIdle
	f.metrics.ObservePass(f.def.ID, "computed")

	subs := make([]func(schema.Result), len(f.subs))
	copy(subs, f.subs)
	return emission{seq: seq, result: &res, subs: subs}
}

// fail clears the previous result and renders the user-facing errors.
func (f *Form) fail(errs []calcerr.Error) {
	f.last = nil
	var visible []calcerr.Error
	for _, err := range errs {
		if !calcerr.UserFacing(err.Kind()) {
			f.logger.Error().Err(err).Msg("calculator schema references an unsupported unit")
			continue
		}
		visible = append(visible, err)
	}
	f.hidePanels()
	if len(visible) == 0 {
		f.lastErr = nil
		f.c.Patch(render.ResultID(f.def.ID), "")
		f.state = StateIdle
		return
	}
	f.lastErr = visible[0]
	f.c.Patch(render.ResultID(f.def.ID), render.ErrorsMarkup(visible))
	f.state = StateErrorDisplayed
}

func (f *Form) calculate(v schema.Values) (res schema.Result, cerr calcerr.Error) {
	f.slot.Reset()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("calculate panicked")
			res, cerr = schema.Result{}, calcerr.Domain("The calculation could not be completed.")
		}
	}()
	out, err := f.def.Calculate(v, f.slot)
	if err != nil {
		return schema.Result{}, asCalcErr(err)
	}
	return out, nil
}

func asCalcErr(err error) calcerr.Error {
	var ce calcerr.Error
	if errors.As(err, &ce) {
		return ce
	}
	return &calcerr.DomainError{Message: err.Error()}
}

// emit delivers a pass's result to subscribers unless a newer pass has
// already been emitted.
func (f *Form) emit(e emission) {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	if e.seq <= f.emitted {
		return
	}
	f.emitted = e.seq
	if e.result == nil {
		return
	}
	for _, fn := range e.subs {
		fn(*e.result)
	}
}

func (f *Form) showPanels() {
	for _, p := range f.def.Panels {
		f.c.SetVisible(render.PanelID(f.def.ID, p.ID), true)
	}
}

func (f *Form) hidePanels() {
	for _, p := range f.def.Panels {
		f.c.SetVisible(render.PanelID(f.def.ID, p.ID), false)
		f.c.Patch(render.PanelResultID(f.def.ID, p.ID), "")
	}
}

// RunPanel evaluates a secondary panel against the latest result's slot and
// patches the panel's result region.
func (f *Form) RunPanel(panelID string, raw map[string]string) (schema.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return schema.Result{}, ErrDetached
	}
	p, ok := f.def.Panel(panelID)
	if !ok {
		return schema.Result{}, fmt.Errorf("%w: %s", ErrUnknownPanel, panelID)
	}
	target := render.PanelResultID(f.def.ID, p.ID)
	if f.last == nil {
		err := calcerr.Domain("Complete the calculation before using %s.", p.Title)
		f.c.Patch(target, render.ErrorMarkup(err))
		return schema.Result{}, err
	}

	pdef := &schema.Definition{ID: f.def.ID + "-" + p.ID, Sections: []schema.Section{{Fields: p.Inputs}}}
	in := make(map[string]validation.Input, len(p.Inputs))
	for _, spec := range p.Inputs {
		id := spec.Common().ID
		v, present := raw[id]
		if !present {
			v = schema.DefaultValue(spec)
		}
		input := validation.Input{Raw: v}
		if n, ok := spec.(schema.Number); ok {
			input.Unit = validation.DisplayUnit(n)
		}
		in[id] = input
	}
	rep := validation.Evaluate(pdef, in)
	if !rep.OK() {
		f.c.Patch(target, render.ErrorsMarkup(rep.Errors))
		return schema.Result{}, rep.Errors[0]
	}

	res, cerr := f.runPanel(p, rep.Values)
	if cerr != nil {
		f.c.Patch(target, render.ErrorMarkup(cerr))
		return schema.Result{}, cerr
	}
	f.c.Patch(target, render.ResultMarkup(res))
	f.c.SetVisible(render.PanelID(f.def.ID, p.ID), true)
	return res, nil
}

func (f *Form) runPanel(p schema.Panel, v schema.Values) (res schema.Result, cerr calcerr.Error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Str("panel", p.ID).Msg("panel panicked")
			res, cerr = schema.Result{}, calcerr.Domain("The %s panel could not be completed.", p.Title)
		}
	}()
	out, err := p.Run(f.slot, v)
	if err != nil {
		return schema.Result{}, asCalcErr(err)
	}
	return out, nil
}
