// Package clinicaldata wraps the host's clinical-data client.
//
// Every Adapter method is fail-soft: errors, panics and timeouts in the
// underlying Source resolve to an absent value and are only logged.
package clinicaldata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ehr/medcalc/internal/platform/metrics"
)

// Subject is the patient the form is opened for.
type Subject struct {
	ID        string
	Name      string
	BirthDate time.Time
	Gender    string
}

// Age returns completed years at now, or false without a birth date.
func (s *Subject) Age(now time.Time) (int, bool) {
	if s == nil || s.BirthDate.IsZero() {
		return 0, false
	}
	years := now.Year() - s.BirthDate.Year()
	bm, bd := s.BirthDate.Month(), s.BirthDate.Day()
	if now.Month() < bm || (now.Month() == bm && now.Day() < bd) {
		years--
	}
	return years, true
}

// Snapshot is the most recent observation for a code.
type Snapshot struct {
	Code      string
	Value     float64
	Unit      string
	Timestamp time.Time
	Stale     bool
	AgeText   string
}

// Condition is an active problem-list entry.
type Condition struct {
	Code           string
	System         string
	Display        string
	ClinicalStatus string
	Onset          time.Time
}

// Source is the host's clinical-data client. Implementations may fail;
// the Adapter absorbs the failures. LatestObservation returns nil, nil when
// no observation exists.
type Source interface {
	Subject(ctx context.Context) (*Subject, error)
	LatestObservation(ctx context.Context, code string) (*Snapshot, error)
	Conditions(ctx context.Context, codes []string) ([]Condition, error)
}

// Options tune an Adapter.
type Options struct {
	Timeout    time.Duration
	StaleAfter time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Collector
	Now        func() time.Time
}

// Adapter is the fail-soft facade over a Source. A nil Source puts it in
// standalone mode where every call is immediately absent.
type Adapter struct {
	src     Source
	timeout time.Duration
	stale   time.Duration
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

const (
	DefaultTimeout    = 10 * time.Second
	DefaultStaleAfter = 90 * 24 * time.Hour
)

func New(src Source, opts Options) *Adapter {
	a := &Adapter{
		src:     src,
		timeout: opts.Timeout,
		stale:   opts.StaleAfter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.stale <= 0 {
		a.stale = DefaultStaleAfter
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Standalone reports whether the adapter has no host client.
func (a *Adapter) Standalone() bool { return a.src == nil }

// Now returns the adapter's clock.
func (a *Adapter) Now() time.Time { return a.now() }

// GetSubject returns the current subject or nil.
func (a *Adapter) GetSubject(ctx context.Context) *Subject {
	if a.src == nil {
		return nil
	}
	s, _ := call(a, ctx, "subject", "", func(ctx context.Context) (*Subject, error) {
		return a.src.Subject(ctx)
	})
	return s
}

// GetObservation returns the most recent observation for code or nil.
func (a *Adapter) GetObservation(ctx context.Context, code string) *Snapshot {
	if a.src == nil {
		return nil
	}
	snap, _ := call(a, ctx, "observation", code, func(ctx context.Context) (*Snapshot, error) {
		return a.src.LatestObservation(ctx, code)
	})
	if snap == nil {
		return nil
	}
	out := *snap
	if out.Code == "" {
		out.Code = code
	}
	if !out.Timestamp.IsZero() {
		out.AgeText = humanize.RelTime(out.Timestamp, a.now(), "ago", "from now")
		out.Stale = a.now().Sub(out.Timestamp) > a.stale
	}
	return &out
}

// GetConditions returns active conditions matching any of codes.
func (a *Adapter) GetConditions(ctx context.Context, codes []string) []Condition {
	if a.src == nil || len(codes) == 0 {
		return nil
	}
	conds, _ := call(a, ctx, "conditions", strings.Join(codes, ","), func(ctx context.Context) ([]Condition, error) {
		return a.src.Conditions(ctx, codes)
	})
	return conds
}

type outcome[T any] struct {
	val T
	err error
}

// call runs fn with the adapter timeout and converts every failure into the
// zero value. The boolean reports whether fn produced a value.
func call[T any](a *Adapter, ctx context.Context, op, code string, fn func(context.Context) (T, error)) (T, bool) {
	var zero T
	ctx, span := otel.Tracer("github.com/ehr/medcalc/clinicaldata").Start(ctx, "clinicaldata."+op)
	defer span.End()
	if code != "" {
		span.SetAttributes(attribute.String("clinicaldata.code", code))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("panic in clinical-data source: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	fail := func(result string, err error) (T, bool) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.ObserveFetch(op, result, time.Since(start))
		a.logger.Warn().Err(err).Str("operation", op).Str("code", code).Msg("clinical-data fetch failed; treating as absent")
		return zero, false
	}

	select {
	case <-ctx.Done():
		return fail("timeout", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fail("error", res.err)
		}
		result := "found"
		if isAbsent(res.val) {
			result = "absent"
		}
		a.metrics.ObserveFetch(op, result, time.Since(start))
		return res.val, result == "found"
	}
}

func isAbsent(v any) bool {
	switch x := v.(type) {
	case *Subject:
		return x == nil
	case *Snapshot:
		return x == nil
	case []Condition:
		return len(x) == 0
	}
	return v == nil
}
