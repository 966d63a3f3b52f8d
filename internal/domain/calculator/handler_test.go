package calculator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/internal/platform/auth"
	"github.com/ehr/medcalc/internal/platform/middleware"
	"github.com/ehr/medcalc/pkg/pagination"
)

func newTestHandler(sources SourceFactory) (*Handler, *echo.Echo) {
	svc, _ := newTestService(sources)
	h := NewHandler(svc)
	e := echo.New()
	api := e.Group("/api/v1", auth.LaunchContextMiddleware(auth.LaunchConfig{}))
	h.RegisterRoutes(api)
	return h, e
}

var testSigningKey = []byte("test-secret")

// newVerifiedHandler requires signed launch tokens, as the ehrdb deployment does.
func newVerifiedHandler(sources SourceFactory) *echo.Echo {
	svc, _ := newTestService(sources)
	h := NewHandler(svc.RequireVerifiedLaunch())
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("tenant_id", c.Request().Header.Get("X-Tenant-ID"))
			return next(c)
		}
	}, auth.LaunchContextMiddleware(auth.LaunchConfig{SigningKey: testSigningKey}))
	h.RegisterRoutes(api)
	return e
}

func signLaunch(t *testing.T, claims auth.LaunchClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func do(e *echo.Echo, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) FormState {
	t.Helper()
	var st FormState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return st
}

func createForm(t *testing.T, e *echo.Echo, body string, header ...string) FormState {
	t.Helper()
	rec := do(e, http.MethodPost, "/api/v1/forms", body, header...)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeState(t, rec)
}

// -- Calculator Handler Tests --

func TestHandler_ListCalculators(t *testing.T) {
	_, e := newTestHandler(nil)
	rec := do(e, http.MethodGet, "/api/v1/calculators?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data    []Summary         `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
		Links   []pagination.Link `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page %+v", resp)
	}
	if len(resp.Links) != 2 || resp.Links[1].URL != "/api/v1/calculators?offset=2&limit=2" {
		t.Errorf("unexpected links %+v", resp.Links)
	}
}

func TestHandler_ListCalculators_Filtered(t *testing.T) {
	_, e := newTestHandler(nil)
	rec := do(e, http.MethodGet, "/api/v1/calculators?category=general&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data  []Summary         `json:"data"`
		Total int               `json:"total"`
		Links []pagination.Link `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Data) != 1 || resp.Data[0].ID != "bmi-bsa" || resp.Data[0].Category != "general" {
		t.Errorf("unexpected page %+v", resp)
	}
	if len(resp.Links) != 2 || resp.Links[1].URL != "/api/v1/calculators?category=general&offset=1&limit=1" {
		t.Errorf("unexpected links %+v", resp.Links)
	}

	rec = do(e, http.MethodGet, "/api/v1/calculators?q=cholesterol", "")
	resp.Data = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 {
		t.Errorf("expected no match for a term outside id, title and description, got %+v", resp.Data)
	}

	rec = do(e, http.MethodGet, "/api/v1/calculators?q=risk", "")
	resp.Data = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Data[0].ID != "ascvd" {
		t.Errorf("expected ascvd for q=risk, got %+v", resp.Data)
	}
}

func TestHandler_GetCalculator(t *testing.T) {
	h, e := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ascvd")

	if err := h.GetCalculator(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d Detail
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.ID != "ascvd" || len(d.PanelMeta) != 1 || len(d.References) == 0 {
		t.Errorf("unexpected detail %+v", d.Summary)
	}
}

func TestHandler_GetCalculator_NotFound(t *testing.T) {
	h, e := newTestHandler(nil)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.GetCalculator(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_GetMarkup(t *testing.T) {
	_, e := newTestHandler(nil)
	rec := do(e, http.MethodGet, "/api/v1/calculators/map/markup", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMETextHTML) {
		t.Errorf("expected html content type, got %q", ct)
	}
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"map-form", "map-sbp", "map-dbp", "map-result", "map-warnings"} {
		if doc.Find("#"+id).Length() != 1 {
			t.Errorf("expected element #%s", id)
		}
	}
}

// -- Form Handler Tests --

func TestHandler_FormLifecycle(t *testing.T) {
	_, e := newTestHandler(nil)
	st := createForm(t, e, `{"calculator_id":"map"}`)
	if st.FormID == "" || st.Calculator != "map" {
		t.Fatalf("unexpected create response %+v", st)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(st.HTML))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Find("#map-result").Length() != 1 {
		t.Error("expected form markup in create response")
	}

	base := "/api/v1/forms/" + st.FormID
	if rec := do(e, http.MethodPut, base+"/fields/sbp", `{"value":"120"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := do(e, http.MethodPut, base+"/fields/dbp", `{"value":"80"}`)
	st = decodeState(t, rec)
	if st.Result == nil || st.Result.Display != "93.3" || st.Result.Band != "Normal" {
		t.Fatalf("expected MAP 93.3 Normal, got %+v", st.Result)
	}

	rec = do(e, http.MethodGet, base, "")
	if rec.Code != http.StatusOK || decodeState(t, rec).HTML == "" {
		t.Errorf("expected state with markup, got %d", rec.Code)
	}

	if rec := do(e, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestHandler_ChangeField_Validation(t *testing.T) {
	_, e := newTestHandler(nil)
	st := createForm(t, e, `{"calculator_id":"map"}`)

	rec := do(e, http.MethodPut, "/api/v1/forms/"+st.FormID+"/fields/sbp", `{"value":"400"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected validation errors in the state, got %d", rec.Code)
	}
	if got := decodeState(t, rec).ErrorKind; got != "out-of-range" {
		t.Errorf("expected out-of-range, got %q", got)
	}
}

func TestHandler_ChangeField_UnknownField(t *testing.T) {
	_, e := newTestHandler(nil)
	st := createForm(t, e, `{"calculator_id":"map"}`)
	rec := do(e, http.MethodPut, "/api/v1/forms/"+st.FormID+"/fields/nope", `{"value":"1"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ToggleUnit(t *testing.T) {
	_, e := newTestHandler(nil)
	st := createForm(t, e, `{"calculator_id":"ascvd"}`)
	base := "/api/v1/forms/" + st.FormID + "/fields/tc"

	do(e, http.MethodPut, base, `{"value":"200"}`)
	rec := do(e, http.MethodPut, base+"/unit", `{"unit":"mmol/L"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, f := range decodeState(t, rec).Fields {
		if f.ID == "tc" && (f.Value != "5.17" || f.Unit != "mmol/L") {
			t.Errorf("expected 5.17 mmol/L, got %s %s", f.Value, f.Unit)
		}
	}

	rec = do(e, http.MethodPut, base+"/unit", `{"unit":"furlongs"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unsupported unit, got %d", rec.Code)
	}
}

func TestHandler_RunPanel(t *testing.T) {
	_, e := newTestHandler(nil)
	st := createForm(t, e, `{"calculator_id":"ascvd"}`)
	rec := do(e, http.MethodPost, "/api/v1/forms/"+st.FormID+"/panels/therapy", `{"inputs":{"statin":"true"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res PanelResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.ErrorKind != "calculator-domain" {
		t.Errorf("expected domain error before a baseline, got %+v", res)
	}

	rec = do(e, http.MethodPost, "/api/v1/forms/"+st.FormID+"/panels/nope", `{"inputs":{}}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown panel, got %d", rec.Code)
	}
}

func TestHandler_CreateForm_UnknownCalculator(t *testing.T) {
	_, e := newTestHandler(nil)
	rec := do(e, http.MethodPost, "/api/v1/forms", `{"calculator_id":"nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CreateForm_LaunchToken(t *testing.T) {
	requests := make(chan SourceRequest, 1)
	_, e := newTestHandler(SourceFunc(func(_ context.Context, req SourceRequest) (clinicaldata.Source, error) {
		requests <- req
		return bpRecord(), nil
	}))

	claims := auth.LaunchClaims{
		Patient: "p1",
		Scope:   "launch patient/Patient.read patient/Observation.read patient/Condition.read",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	st := createForm(t, e, `{"calculator_id":"map"}`, "Authorization", "Bearer "+token)

	select {
	case req := <-requests:
		if req.PatientID != "p1" || req.Token != token {
			t.Errorf("unexpected source request %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the source to be opened for the launch patient")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := decodeState(t, do(e, http.MethodGet, "/api/v1/forms/"+st.FormID, ""))
		if got.Result != nil {
			if got.Result.Display != "93.3" {
				t.Errorf("expected populated MAP 93.3, got %s", got.Result.Display)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("form was not populated from the launch patient")
}

func TestHandler_CreateForm_BadToken(t *testing.T) {
	_, e := newTestHandler(nil)
	rec := do(e, http.MethodPost, "/api/v1/forms", `{"calculator_id":"map"}`, "Authorization", "Bearer not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_VerifiedLaunch_RejectsAnonymousPatient(t *testing.T) {
	var opened atomic.Int32
	e := newVerifiedHandler(SourceFunc(func(context.Context, SourceRequest) (clinicaldata.Source, error) {
		opened.Add(1)
		return bpRecord(), nil
	}))

	rec := do(e, http.MethodPost, "/api/v1/forms", `{"calculator_id":"map","patient_id":"victim-1"}`, "X-Tenant-ID", "other")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, auth.LaunchClaims{Patient: "victim-1", Scope: "patient/*.read"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	rec = do(e, http.MethodPost, "/api/v1/forms", `{"calculator_id":"map"}`, "Authorization", "Bearer "+unsigned)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an unsigned token, got %d", rec.Code)
	}
	if opened.Load() != 0 {
		t.Error("expected no clinical source to be opened")
	}
}

func TestHandler_VerifiedLaunch_PatientMismatch(t *testing.T) {
	e := newVerifiedHandler(SourceFunc(func(context.Context, SourceRequest) (clinicaldata.Source, error) {
		return bpRecord(), nil
	}))
	token := signLaunch(t, auth.LaunchClaims{Patient: "p1", Scope: "patient/*.read"})
	rec := do(e, http.MethodPost, "/api/v1/forms", `{"calculator_id":"map","patient_id":"p2"}`, "Authorization", "Bearer "+token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_VerifiedLaunch_TenantFromToken(t *testing.T) {
	requests := make(chan SourceRequest, 1)
	e := newVerifiedHandler(SourceFunc(func(_ context.Context, req SourceRequest) (clinicaldata.Source, error) {
		requests <- req
		return bpRecord(), nil
	}))
	token := signLaunch(t, auth.LaunchClaims{Patient: "p1", TenantID: "acme", Scope: "patient/*.read"})
	createForm(t, e, `{"calculator_id":"map"}`, "Authorization", "Bearer "+token, "X-Tenant-ID", "other")

	select {
	case req := <-requests:
		if req.PatientID != "p1" || req.TenantID != "acme" {
			t.Errorf("unexpected source request %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the source to be opened for the verified patient")
	}
}

func TestHandler_RequestLogCarriesFormContext(t *testing.T) {
	var buf bytes.Buffer
	svc, _ := newTestService(nil)
	e := echo.New()
	e.Use(middleware.Logger(zerolog.New(&buf)))
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1", auth.LaunchContextMiddleware(auth.LaunchConfig{})))

	st := createForm(t, e, `{"calculator_id":"map"}`)
	buf.Reset()
	rec := do(e, http.MethodPut, "/api/v1/forms/"+st.FormID+"/fields/sbp", `{"value":"120"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["form_id"] != st.FormID || line["calculator"] != "map" || line["field"] != "sbp" {
		t.Errorf("unexpected log line %v", line)
	}
	if line["outcome"] != decodeState(t, rec).State {
		t.Errorf("expected the pass state in the log line, got %v", line["outcome"])
	}
}
