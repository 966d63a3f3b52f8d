package fhirclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/pkg/fhircodes"
)

// Source implements clinicaldata.Source over FHIR searches for one patient.
type Source struct {
	client    *Client
	patientID string
	token     string
}

var _ clinicaldata.Source = (*Source)(nil)

func (s *Source) Subject(ctx context.Context) (*clinicaldata.Subject, error) {
	body, err := s.client.get(ctx, "Patient/"+url.PathEscape(s.patientID), nil, s.token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parsePatient(body)
}

// LatestObservation searches newest-first for code, falling back to the
// blood-pressure panels for component codes.
func (s *Source) LatestObservation(ctx context.Context, code string) (*clinicaldata.Snapshot, error) {
	snap, err := s.latest(ctx, []string{code}, code)
	if err != nil || snap != nil {
		return snap, err
	}
	if panels, ok := fhircodes.BPComponents[code]; ok {
		return s.latest(ctx, panels, code)
	}
	return nil, nil
}

func (s *Source) latest(ctx context.Context, searchCodes []string, want string) (*clinicaldata.Snapshot, error) {
	q := url.Values{}
	q.Set("patient", s.patientID)
	q.Set("code", loincTokens(searchCodes))
	q.Set("_sort", "-date")
	q.Set("_count", "5")
	body, err := s.client.get(ctx, "Observation", q, s.token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var (
		snap    *clinicaldata.Snapshot
		scanErr error
	)
	gjson.GetBytes(body, "entry.#.resource").ForEach(func(_, res gjson.Result) bool {
		snap, scanErr = observationValue([]byte(res.Raw), want)
		return snap == nil && scanErr == nil
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if snap != nil {
		snap.Code = want
	}
	return snap, nil
}

func (s *Source) Conditions(ctx context.Context, codes []string) ([]clinicaldata.Condition, error) {
	tokens := make([]string, len(codes))
	for i, c := range codes {
		tokens[i] = fhircodes.SystemSNOMED + "|" + c
	}
	q := url.Values{}
	q.Set("patient", s.patientID)
	q.Set("code", strings.Join(tokens, ","))
	q.Set("clinical-status", fhircodes.ConditionActive)
	body, err := s.client.get(ctx, "Condition", q, s.token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseConditions(body, codes), nil
}

func loincTokens(codes []string) string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = fhircodes.SystemLOINC + "|" + c
	}
	return strings.Join(out, ",")
}

func parsePatient(body []byte) (*clinicaldata.Subject, error) {
	if rt := gjson.GetBytes(body, "resourceType").String(); rt != "Patient" {
		return nil, fmt.Errorf("expected Patient, got %q", rt)
	}
	p := gjson.ParseBytes(body)
	subj := &clinicaldata.Subject{
		ID:     p.Get("id").String(),
		Gender: p.Get("gender").String(),
	}
	name := p.Get("name.0")
	if text := name.Get("text").String(); text != "" {
		subj.Name = text
	} else {
		var parts []string
		name.Get("given").ForEach(func(_, g gjson.Result) bool {
			parts = append(parts, g.String())
			return true
		})
		if family := name.Get("family").String(); family != "" {
			parts = append(parts, family)
		}
		subj.Name = strings.Join(parts, " ")
	}
	if bd := p.Get("birthDate").String(); bd != "" {
		t, err := parseFHIRDate(bd)
		if err != nil {
			return nil, fmt.Errorf("patient birthDate: %w", err)
		}
		subj.BirthDate = t
	}
	return subj, nil
}

func parseConditions(body []byte, codes []string) []clinicaldata.Condition {
	wanted := map[string]bool{}
	for _, c := range codes {
		wanted[c] = true
	}
	var out []clinicaldata.Condition
	gjson.GetBytes(body, "entry.#.resource").ForEach(func(_, res gjson.Result) bool {
		status := res.Get("clinicalStatus.coding.0.code").String()
		if status != "" && status != fhircodes.ConditionActive && status != fhircodes.ConditionRecurrence && status != fhircodes.ConditionRelapse {
			return true
		}
		res.Get("code.coding").ForEach(func(_, coding gjson.Result) bool {
			code := coding.Get("code").String()
			if !wanted[code] {
				return true
			}
			c := clinicaldata.Condition{
				Code:           code,
				System:         coding.Get("system").String(),
				Display:        coding.Get("display").String(),
				ClinicalStatus: status,
			}
			if c.Display == "" {
				c.Display = res.Get("code.text").String()
			}
			if onset, err := parseFHIRDate(res.Get("onsetDateTime").String()); err == nil {
				c.Onset = onset
			}
			out = append(out, c)
			return false
		})
		return true
	})
	return out
}

// parseFHIRDate accepts the FHIR date and dateTime forms.
func parseFHIRDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
