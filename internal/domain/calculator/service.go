package calculator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/engine"
	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/engine/render"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/internal/platform/auth"
)

// SourceRequest identifies whose record a form reads.
type SourceRequest struct {
	PatientID string
	TenantID  string
	Token     string
}

// SourceFactory opens a clinical-data source for one patient.
type SourceFactory interface {
	Open(ctx context.Context, req SourceRequest) (clinicaldata.Source, error)
}

// SourceFunc adapts a function to SourceFactory.
type SourceFunc func(ctx context.Context, req SourceRequest) (clinicaldata.Source, error)

func (f SourceFunc) Open(ctx context.Context, req SourceRequest) (clinicaldata.Source, error) {
	return f(ctx, req)
}

var (
	ErrLaunchRequired  = errors.New("a verified launch token is required to read patient data")
	ErrPatientMismatch = errors.New("patient_id does not match the launch context")
)

// Launch is the caller's launch context. Verified is set when the token's
// signature was checked; TenantID then comes from the token's claim only.
type Launch struct {
	PatientID string
	TenantID  string
	Token     string
	Scopes    []auth.SMARTScope
	Verified  bool
}

type Service struct {
	engine         *engine.Engine
	store          FormStore
	sources        SourceFactory
	logger         zerolog.Logger
	verifiedLaunch bool
}

// NewService builds the calculator service. A nil sources opens every
// form in standalone mode.
func NewService(eng *engine.Engine, store FormStore, sources SourceFactory, logger zerolog.Logger) *Service {
	return &Service{engine: eng, store: store, sources: sources, logger: logger}
}

// RequireVerifiedLaunch makes population depend on a verified launch token:
// the patient is taken from its claim, and forms for any other patient are
// refused. Use it for sources that do not check the caller's token themselves.
func (s *Service) RequireVerifiedLaunch() *Service {
	s.verifiedLaunch = true
	return s
}

// -- Calculators --

// List returns the catalog sorted by id. A non-empty category other than
// "all" must match exactly; q matches id, title or description
// case-insensitively.
func (s *Service) List(category, q string) []Summary {
	defs := s.engine.Registry().List()
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]Summary, 0, len(defs))
	for _, d := range defs {
		if category != "" && category != "all" && d.Category != category {
			continue
		}
		if q != "" && !matches(d, q) {
			continue
		}
		out = append(out, summarize(d))
	}
	return out
}

func matches(d *schema.Definition, q string) bool {
	for _, s := range []string{d.ID, d.Title, d.Description} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func (s *Service) Describe(id string) (*Detail, error) {
	def, err := s.engine.Registry().Get(id)
	if err != nil {
		return nil, err
	}
	d := describe(def)
	return &d, nil
}

func (s *Service) Markup(id string) (string, error) {
	def, err := s.engine.Registry().Get(id)
	if err != nil {
		return "", err
	}
	return render.Render(def), nil
}

// -- Forms --

// Open initializes a form. Source failures degrade to standalone mode; so
// does a launch token whose scopes do not cover the reads population needs.
func (s *Service) Open(ctx context.Context, req CreateFormRequest, launch Launch) (*Instance, error) {
	if req.CalculatorID == "" {
		return nil, fmt.Errorf("calculator_id is required")
	}
	patientID, err := s.patientFor(req, launch)
	if err != nil {
		return nil, err
	}

	src := s.source(ctx, patientID, launch)
	f, err := s.engine.Initialize(ctx, req.CalculatorID, src, nil, nil)
	if err != nil {
		return nil, err
	}
	inst := s.store.Put(f, patientID, launch.TenantID)
	s.logger.Info().
		Str("form_id", inst.ID).
		Str("calculator", req.CalculatorID).
		Bool("standalone", src == nil).
		Msg("form opened")
	return inst, nil
}

// patientFor resolves whose record a form reads. A body patient may never
// contradict the launch patient; with a verified launch required it may only
// repeat it.
func (s *Service) patientFor(req CreateFormRequest, launch Launch) (string, error) {
	if req.PatientID != "" && launch.PatientID != "" && req.PatientID != launch.PatientID {
		return "", ErrPatientMismatch
	}
	if !s.verifiedLaunch || s.sources == nil {
		if req.PatientID != "" {
			return req.PatientID, nil
		}
		return launch.PatientID, nil
	}
	if !launch.Verified {
		if req.PatientID != "" {
			return "", ErrLaunchRequired
		}
		return "", nil
	}
	return launch.PatientID, nil
}

func (s *Service) source(ctx context.Context, patientID string, launch Launch) clinicaldata.Source {
	if s.sources == nil || patientID == "" {
		return nil
	}
	if s.verifiedLaunch && len(launch.Scopes) == 0 {
		s.logger.Warn().Str("patient_id", patientID).Msg("launch token grants no resource scopes, opening standalone")
		return nil
	}
	if launch.Token != "" && !auth.CanPopulate(launch.Scopes) {
		s.logger.Warn().Str("patient_id", patientID).Msg("launch scopes do not permit population, opening standalone")
		return nil
	}
	src, err := s.sources.Open(ctx, SourceRequest{PatientID: patientID, TenantID: launch.TenantID, Token: launch.Token})
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("clinical source unavailable, opening standalone")
		return nil
	}
	return src
}

func (s *Service) State(id string) (*FormState, error) {
	inst, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return s.state(inst, true)
}

func (s *Service) state(inst *Instance, withHTML bool) (*FormState, error) {
	st := &FormState{FormID: inst.ID, View: inst.Form.View()}
	if withHTML {
		html, err := inst.Form.Container().HTML()
		if err != nil {
			return nil, fmt.Errorf("form %s markup: %w", inst.ID, err)
		}
		st.HTML = html
	}
	return st, nil
}

func (s *Service) Change(id, fieldID, value string) (*FormState, error) {
	inst, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := inst.Form.Change(fieldID, value); err != nil {
		return nil, err
	}
	return s.state(inst, false)
}

func (s *Service) ToggleUnit(id, fieldID, unit string) (*FormState, error) {
	inst, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := inst.Form.ToggleUnit(fieldID, unit); err != nil {
		return nil, err
	}
	return s.state(inst, false)
}

// RunPanel evaluates a secondary panel. Calculation errors are part of the
// panel's rendered outcome, not failures of the call.
func (s *Service) RunPanel(id, panelID string, inputs map[string]string) (*PanelResult, error) {
	inst, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	res, runErr := inst.Form.RunPanel(panelID, inputs)
	var cerr calcerr.Error
	if runErr != nil && !errors.As(runErr, &cerr) {
		return nil, runErr
	}

	def := inst.Form.Definition()
	html, _ := inst.Form.Container().Fragment(render.PanelResultID(def.ID, panelID))
	out := &PanelResult{HTML: html}
	if cerr != nil {
		out.Error = cerr.Error()
		out.ErrorKind = string(cerr.Kind())
		return out, nil
	}
	out.Result = form.NewResultView(res)
	return out, nil
}

func (s *Service) Close(id string) error {
	inst, err := s.store.Delete(id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("form_id", inst.ID).Msg("form closed")
	return nil
}
