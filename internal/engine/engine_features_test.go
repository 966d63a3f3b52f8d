package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/calculators"
	"github.com/ehr/medcalc/internal/engine"
	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/internal/engine/form"
)

var featureNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// recordSource serves a fixed patient record.
type recordSource struct {
	mu      sync.Mutex
	subject *clinicaldata.Subject
	obs     map[string]*clinicaldata.Snapshot
	delay   time.Duration
}

func (s *recordSource) Subject(context.Context) (*clinicaldata.Subject, error) {
	return s.subject, nil
}

func (s *recordSource) LatestObservation(ctx context.Context, code string) (*clinicaldata.Snapshot, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs[code], nil
}

func (s *recordSource) Conditions(context.Context, []string) ([]clinicaldata.Condition, error) {
	return nil, nil
}

type scenario struct {
	eng  *engine.Engine
	src  *recordSource
	form *form.Form
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func initializeScenario(sc *godog.ScenarioContext) {
	s := &scenario{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.eng = engine.New(calculators.Registry(), engine.Options{
			Logger: zerolog.Nop(),
			Now:    func() time.Time { return featureNow },
		})
		s.src = nil
		s.form = nil
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.form != nil {
			s.form.Detach()
		}
		return ctx, nil
	})

	sc.Step(`^a patient born "([^"]*)" who is "([^"]*)"$`, s.aPatient)
	sc.Step(`^no patient record$`, s.noPatientRecord)
	sc.Step(`^the record has "([^"]*)" of ([\d.]+) "([^"]*)" measured (\d+) days ago$`, s.theRecordHas)
	sc.Step(`^fetches take (\d+) milliseconds$`, s.fetchesTake)
	sc.Step(`^I open the "([^"]*)" calculator$`, s.iOpen)
	sc.Step(`^population finishes$`, s.populationFinishes)
	sc.Step(`^I enter "([^"]*)" into "([^"]*)"$`, s.iEnter)
	sc.Step(`^I switch "([^"]*)" to "([^"]*)"$`, s.iSwitch)
	sc.Step(`^field "([^"]*)" shows "([^"]*)"$`, s.fieldShows)
	sc.Step(`^the result is "([^"]*)"$`, s.theResultIs)
	sc.Step(`^the band is "([^"]*)"$`, s.theBandIs)
	sc.Step(`^the banner contains "([^"]*)"$`, s.theBannerContains)
	sc.Step(`^the error kind is "([^"]*)"$`, s.theErrorKindIs)
}

func (s *scenario) aPatient(born, gender string) error {
	bd, err := time.Parse("2006-01-02", born)
	if err != nil {
		return err
	}
	s.src = &recordSource{
		subject: &clinicaldata.Subject{ID: "p1", BirthDate: bd, Gender: gender},
		obs:     map[string]*clinicaldata.Snapshot{},
	}
	return nil
}

func (s *scenario) noPatientRecord() error {
	s.src = nil
	return nil
}

func (s *scenario) theRecordHas(code string, value float64, unit string, days int) error {
	if s.src == nil {
		return fmt.Errorf("no patient")
	}
	s.src.obs[code] = &clinicaldata.Snapshot{
		Value:     value,
		Unit:      unit,
		Timestamp: featureNow.AddDate(0, 0, -days),
	}
	return nil
}

func (s *scenario) fetchesTake(ms int) error {
	s.src.delay = time.Duration(ms) * time.Millisecond
	return nil
}

func (s *scenario) iOpen(id string) error {
	var (
		f   *form.Form
		err error
	)
	if s.src == nil {
		f, err = s.eng.Initialize(context.Background(), id, nil, nil, nil)
	} else {
		f, err = s.eng.Initialize(context.Background(), id, s.src, nil, nil)
	}
	s.form = f
	return err
}

func (s *scenario) populationFinishes() error {
	select {
	case <-s.form.Populated():
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("population did not finish")
	}
}

func (s *scenario) iEnter(value, field string) error {
	return s.form.Change(field, value)
}

func (s *scenario) iSwitch(field, unit string) error {
	return s.form.ToggleUnit(field, unit)
}

func (s *scenario) fieldShows(field, want string) error {
	raw, _, ok := s.form.Value(field)
	if !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	if raw != want {
		return fmt.Errorf("expected %q in %s, got %q", want, field, raw)
	}
	return nil
}

func (s *scenario) theResultIs(want string) error {
	res, ok := s.form.Result()
	if !ok {
		return fmt.Errorf("no result: %v", s.form.Err())
	}
	if res.Display != want {
		return fmt.Errorf("expected result %s, got %s", want, res.Display)
	}
	return nil
}

func (s *scenario) theBandIs(want string) error {
	res, ok := s.form.Result()
	if !ok {
		return fmt.Errorf("no result: %v", s.form.Err())
	}
	if res.Band == nil || res.Band.Name != want {
		return fmt.Errorf("expected band %q, got %+v", want, res.Band)
	}
	return nil
}

func (s *scenario) theBannerContains(want string) error {
	if b := s.form.View().Banner; !strings.Contains(b, want) {
		return fmt.Errorf("expected banner to contain %q, got %q", want, b)
	}
	return nil
}

func (s *scenario) theErrorKindIs(want string) error {
	if k := s.form.View().ErrorKind; k != want {
		return fmt.Errorf("expected error kind %q, got %q (%v)", want, k, s.form.Err())
	}
	return nil
}
