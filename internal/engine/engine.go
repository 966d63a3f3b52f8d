// Package engine wires calculator definitions to live forms: it renders a
// definition into a container, mounts the form, kicks off auto-population
// and runs the first pipeline pass.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/engine/populate"
	"github.com/ehr/medcalc/internal/engine/render"
	"github.com/ehr/medcalc/internal/platform/metrics"
)

// Options configure an Engine.
type Options struct {
	Logger          zerolog.Logger
	Metrics         *metrics.Collector
	FetchTimeout    time.Duration
	StaleAfter      time.Duration
	PopulateTimeout time.Duration
	Now             func() time.Time
}

// Engine initializes forms for registered calculators.
type Engine struct {
	registry *Registry
	opts     Options
	pop      *populate.Orchestrator
}

const defaultPopulateTimeout = 30 * time.Second

func New(reg *Registry, opts Options) *Engine {
	if opts.PopulateTimeout <= 0 {
		opts.PopulateTimeout = defaultPopulateTimeout
	}
	return &Engine{
		registry: reg,
		opts:     opts,
		pop:      populate.New(opts.Logger),
	}
}

// Registry returns the engine's calculator registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Initialize renders calcID into c (a fresh container when nil), mounts the
// form and auto-populates it. A nil src puts the form in standalone mode and
// population completes before Initialize returns. Otherwise it runs in the
// background and the returned form's Populated channel closes once it
// finishes.
func (e *Engine) Initialize(ctx context.Context, calcID string, src clinicaldata.Source, subject *clinicaldata.Subject, c *render.Container) (*form.Form, error) {
	def, err := e.registry.Get(calcID)
	if err != nil {
		return nil, err
	}
	markup := render.Render(def)
	if c == nil {
		c = &render.Container{}
	}
	if err := c.Load(markup); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", calcID, err)
	}
	f, err := form.Mount(def, c, form.Options{Logger: e.opts.Logger, Metrics: e.opts.Metrics})
	if err != nil {
		return nil, err
	}

	adapter := clinicaldata.New(src, clinicaldata.Options{
		Timeout:    e.opts.FetchTimeout,
		StaleAfter: e.opts.StaleAfter,
		Logger:     e.opts.Logger,
		Metrics:    e.opts.Metrics,
		Now:        e.opts.Now,
	})

	// Population's closing recompute is the first pass. Without a source there
	// is nothing to fetch, so it runs inline.
	if adapter.Standalone() {
		e.pop.Populate(ctx, f, adapter, subject)
	} else {
		popCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.PopulateTimeout)
		go func() {
			defer cancel()
			e.pop.Populate(popCtx, f, adapter, subject)
		}()
	}

	e.opts.Logger.Debug().
		Str("calculator", calcID).
		Bool("standalone", adapter.Standalone()).
		Msg("form initialized")
	return f, nil
}
