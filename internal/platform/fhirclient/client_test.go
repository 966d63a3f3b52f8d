package fhirclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const patientJSON = `{
  "resourceType": "Patient",
  "id": "p1",
  "gender": "female",
  "birthDate": "1968-04-12",
  "name": [{"given": ["Grace"], "family": "Hopper"}]
}`

const cholesterolBundle = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {
      "resourceType": "Observation", "status": "preliminary",
      "code": {"coding": [{"system": "http://loinc.org", "code": "2093-3"}]},
      "valueQuantity": {"value": 250, "unit": "mg/dL"},
      "effectiveDateTime": "2026-02-01T09:00:00Z"
    }},
    {"resource": {
      "resourceType": "Observation", "status": "final",
      "code": {"coding": [{"system": "http://loinc.org", "code": "2093-3"}]},
      "valueQuantity": {"value": 213.5, "unit": "mg/dL", "system": "http://unitsofmeasure.org", "code": "mg/dL"},
      "effectiveDateTime": "2026-01-15T09:00:00Z"
    }}
  ]
}`

const bpPanelBundle = `{
  "resourceType": "Bundle",
  "entry": [{"resource": {
    "resourceType": "Observation", "status": "final",
    "code": {"coding": [{"system": "http://loinc.org", "code": "85354-9"}]},
    "effectiveDateTime": "2026-03-01T10:30:00Z",
    "component": [
      {"code": {"coding": [{"system": "http://loinc.org", "code": "8480-6"}]},
       "valueQuantity": {"value": 132, "unit": "mmHg", "code": "mm[Hg]"}},
      {"code": {"coding": [{"system": "http://loinc.org", "code": "8462-4"}]},
       "valueQuantity": {"value": 84, "unit": "mmHg", "code": "mm[Hg]"}}
    ]
  }}]
}`

const conditionBundle = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {
      "resourceType": "Condition",
      "clinicalStatus": {"coding": [{"code": "active"}]},
      "code": {"coding": [{"system": "http://snomed.info/sct", "code": "38341003", "display": "Hypertensive disorder"}]},
      "onsetDateTime": "2019-06-01"
    }},
    {"resource": {
      "resourceType": "Condition",
      "clinicalStatus": {"coding": [{"code": "resolved"}]},
      "code": {"coding": [{"system": "http://snomed.info/sct", "code": "44054006"}]}
    }}
  ]
}`

const emptyBundle = `{"resourceType": "Bundle", "entry": []}`

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/fhir"
	cfg.Logger = zerolog.Nop()
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func fhirServer(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		code := r.URL.Query().Get("code")
		switch {
		case r.URL.Path == "/fhir/Patient/p1":
			w.Write([]byte(patientJSON))
		case r.URL.Path == "/fhir/Patient/missing":
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/fhir/Observation" && strings.Contains(code, "2093-3"):
			w.Write([]byte(cholesterolBundle))
		case r.URL.Path == "/fhir/Observation" && strings.Contains(code, "85354-9"):
			w.Write([]byte(bpPanelBundle))
		case r.URL.Path == "/fhir/Observation":
			w.Write([]byte(emptyBundle))
		case r.URL.Path == "/fhir/Condition":
			if r.URL.Query().Get("clinical-status") != "active" {
				t.Errorf("expected clinical-status filter")
			}
			w.Write([]byte(conditionBundle))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); err == nil {
		t.Error("expected invalid base url to be rejected")
	}
}

func TestSource_Subject(t *testing.T) {
	src := newTestClient(t, fhirServer(t), Config{}).ForPatient("p1", "tok")
	subj, err := src.Subject(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if subj.ID != "p1" || subj.Name != "Grace Hopper" || subj.Gender != "female" {
		t.Errorf("unexpected subject %+v", subj)
	}
	if subj.BirthDate.Year() != 1968 || subj.BirthDate.Month() != time.April {
		t.Errorf("unexpected birth date %v", subj.BirthDate)
	}

	missing := newTestClient(t, fhirServer(t), Config{}).ForPatient("missing", "tok")
	if subj, err := missing.Subject(context.Background()); err != nil || subj != nil {
		t.Errorf("expected absent subject, got %+v %v", subj, err)
	}
}

func TestSource_LatestObservationSkipsPreliminary(t *testing.T) {
	src := newTestClient(t, fhirServer(t), Config{}).ForPatient("p1", "tok")
	snap, err := src.LatestObservation(context.Background(), "2093-3")
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.Value != 213.5 || snap.Unit != "mg/dL" {
		t.Errorf("expected the final 213.5 mg/dL, got %+v", snap)
	}
	if want := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC); !snap.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, snap.Timestamp)
	}
}

func TestSource_BloodPressureComponent(t *testing.T) {
	src := newTestClient(t, fhirServer(t), Config{}).ForPatient("p1", "tok")
	snap, err := src.LatestObservation(context.Background(), "8462-4")
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.Value != 84 || snap.Unit != "mm[Hg]" || snap.Code != "8462-4" {
		t.Errorf("expected diastolic 84 from the panel, got %+v", snap)
	}
}

func TestSource_NoObservation(t *testing.T) {
	src := newTestClient(t, fhirServer(t), Config{}).ForPatient("p1", "tok")
	snap, err := src.LatestObservation(context.Background(), "2085-9")
	if err != nil || snap != nil {
		t.Errorf("expected absent observation, got %+v %v", snap, err)
	}
}

func TestSource_Conditions(t *testing.T) {
	src := newTestClient(t, fhirServer(t), Config{}).ForPatient("p1", "tok")
	conds, err := src.Conditions(context.Background(), []string{"38341003", "44054006"})
	if err != nil {
		t.Fatal(err)
	}
	if len(conds) != 1 {
		t.Fatalf("expected only the active condition, got %+v", conds)
	}
	if conds[0].Code != "38341003" || conds[0].Display != "Hypertensive disorder" || conds[0].Onset.Year() != 2019 {
		t.Errorf("unexpected condition %+v", conds[0])
	}
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, Config{RetryMax: 0, BreakerMaxFailures: 2, BreakerCooldown: time.Minute})
	src := c.ForPatient("p1", "")

	for i := 0; i < 2; i++ {
		if _, err := src.LatestObservation(context.Background(), "2093-3"); err == nil {
			t.Fatal("expected upstream failure")
		}
	}
	before := hits.Load()
	_, err := src.LatestObservation(context.Background(), "2093-3")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
	if hits.Load() != before {
		t.Error("expected no request while the breaker is open")
	}
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, Config{BreakerMaxFailures: 1})
	src := c.ForPatient("p1", "")
	for i := 0; i < 3; i++ {
		if subj, err := src.Subject(context.Background()); err != nil || subj != nil {
			t.Fatalf("attempt %d: expected absent subject, got %+v %v", i, subj, err)
		}
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, Config{RetryMax: 0, BreakerMaxFailures: 2, BreakerCooldown: time.Minute})
	src := c.ForPatient("p1", "expired")

	for i := 0; i < 5; i++ {
		_, err := src.LatestObservation(context.Background(), "2093-3")
		var se *StatusError
		if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401 status error, got %v", i, err)
		}
	}
	if hits.Load() != 5 {
		t.Errorf("expected every request to reach the server, got %d", hits.Load())
	}
}

func TestTripsBreaker(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrNotFound, false},
		{&StatusError{Status: http.StatusUnauthorized}, false},
		{&StatusError{Status: http.StatusForbidden}, false},
		{&StatusError{Status: http.StatusBadRequest}, false},
		{&StatusError{Status: http.StatusTooManyRequests}, true},
		{&StatusError{Status: http.StatusBadGateway}, true},
		{errors.New("connection refused"), true},
	}
	for _, tc := range cases {
		if got := tripsBreaker(tc.err); got != tc.want {
			t.Errorf("tripsBreaker(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
