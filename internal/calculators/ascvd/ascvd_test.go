package ascvd

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/engine"
	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/engine/render"
	"github.com/ehr/medcalc/internal/engine/schema"
)

// Reference profile from the 2013 guideline: age 55, TC 213, HDL 50,
// untreated SBP 120, non-smoker, no diabetes.
func referencePatient(male bool, race string) Patient {
	return Patient{Age: 55, TC: 213, HDL: 50, SBP: 120, Male: male, Race: race}
}

func TestRisk_GuidelineExamples(t *testing.T) {
	cases := []struct {
		name string
		p    Patient
		want string
	}{
		{"white female", referencePatient(false, RaceWhite), "2.1"},
		{"african american female", referencePatient(false, RaceAA), "3.0"},
		{"white male", referencePatient(true, RaceWhite), "5.3"},
		{"african american male", referencePatient(true, RaceAA), "6.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := strconv.FormatFloat(Risk(tc.p), 'f', 1, 64)
			if got != tc.want {
				t.Errorf("expected %s%%, got %s%%", tc.want, got)
			}
		})
	}
}

func TestRisk_OtherUsesWhiteCoefficients(t *testing.T) {
	if Risk(referencePatient(true, RaceOther)) != Risk(referencePatient(true, RaceWhite)) {
		t.Error("expected other race to use the white cohort")
	}
}

func TestRisk_Clamped(t *testing.T) {
	p := Patient{Age: 79, TC: 400, HDL: 20, SBP: 240, Male: true, Race: RaceAA, OnHtnTx: true, Smoker: true, Diabetic: true}
	r := Risk(p)
	if r < 0 || r > 100 {
		t.Errorf("expected risk within [0,100], got %v", r)
	}
}

func TestDefinition_Registers(t *testing.T) {
	if err := engine.NewRegistry().Register(Definition); err != nil {
		t.Fatalf("expected definition to pass registration checks: %v", err)
	}
}

func mountForm(t *testing.T) *form.Form {
	t.Helper()
	c, err := render.NewContainer(render.Render(Definition))
	if err != nil {
		t.Fatal(err)
	}
	f, err := form.Mount(Definition, c, form.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func fill(t *testing.T, f *form.Form, values map[string]string) {
	t.Helper()
	for id, v := range values {
		if err := f.Change(id, v); err != nil {
			t.Fatalf("change %s: %v", id, err)
		}
	}
}

func TestForm_EndToEnd(t *testing.T) {
	f := mountForm(t)
	var emitted []schema.Result
	f.OnResult(func(r schema.Result) { emitted = append(emitted, r) })

	fill(t, f, map[string]string{"age": "55", "tc": "213", "hdl": "50", "sbp": "120", "sex": "male"})
	res, ok := f.Result()
	if !ok {
		t.Fatalf("expected a result, got error %v", f.Err())
	}
	if res.Value <= 0 || res.Value >= 100 {
		t.Errorf("risk out of range: %v", res.Value)
	}
	if res.Display != "5.3" {
		t.Errorf("expected 5.3, got %s", res.Display)
	}
	if res.Band == nil || !res.Band.Contains(res.Value) || res.Band.Name != "Borderline Risk (5-7.4%)" {
		t.Errorf("expected borderline band, got %+v", res.Band)
	}
	if len(emitted) == 0 || emitted[len(emitted)-1].Display != "5.3" {
		t.Errorf("expected final emission of 5.3, got %+v", emitted)
	}
	if b, ok := f.Slot().Float(slotBaseline); !ok || math.Abs(b-res.Value) > 1e-12 {
		t.Errorf("expected baseline in slot, got %v", b)
	}
}

func TestForm_AgeOutsideDomain(t *testing.T) {
	f := mountForm(t)
	fill(t, f, map[string]string{"age": "35", "tc": "213", "hdl": "50", "sbp": "120"})
	var de *calcerr.DomainError
	if !errors.As(f.Err(), &de) {
		t.Fatalf("expected domain error, got %v", f.Err())
	}
}

func TestForm_KnownASCVDSkipsRequired(t *testing.T) {
	f := mountForm(t)
	fill(t, f, map[string]string{"known": "true"})
	res, ok := f.Result()
	if !ok {
		t.Fatalf("expected secondary prevention result, got %v", f.Err())
	}
	if res.Category != SecondaryPrevention || res.Band == nil || res.Band.Name != SecondaryPrevention {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestForm_KnownASCVDStillValidatesPresentValues(t *testing.T) {
	f := mountForm(t)
	fill(t, f, map[string]string{"known": "true", "sbp": "400"})
	var oor *calcerr.OutOfRangeError
	if !errors.As(f.Err(), &oor) {
		t.Errorf("expected out-of-range for a present value, got %v", f.Err())
	}
}

func TestForm_OtherRaceNote(t *testing.T) {
	f := mountForm(t)
	fill(t, f, map[string]string{"age": "60", "tc": "200", "hdl": "45", "sbp": "130", "race": "other"})
	res, ok := f.Result()
	if !ok || len(res.Notes) != 1 {
		t.Errorf("expected a note for other race, got %+v", res)
	}
}

func TestForm_MmolInput(t *testing.T) {
	f := mountForm(t)
	if err := f.ToggleUnit("tc", "mmol/L"); err != nil {
		t.Fatal(err)
	}
	if err := f.ToggleUnit("hdl", "mmol/L"); err != nil {
		t.Fatal(err)
	}
	fill(t, f, map[string]string{"age": "55", "tc": "5.51", "hdl": "1.29", "sbp": "120"})
	res, ok := f.Result()
	if !ok {
		t.Fatalf("expected result, got %v", f.Err())
	}
	if math.Abs(res.Value-Risk(referencePatient(true, RaceWhite))) > 0.2 {
		t.Errorf("expected mmol/L input to match the mg/dL risk, got %v", res.Value)
	}
}

func TestTherapyPanel(t *testing.T) {
	f := mountForm(t)
	if _, err := f.RunPanel("therapy", map[string]string{"statin": "true"}); err == nil {
		t.Fatal("expected panel to need a baseline")
	}
	fill(t, f, map[string]string{"age": "65", "tc": "240", "hdl": "40", "sbp": "150", "smoker": "yes"})
	base, _ := f.Result()

	res, err := f.RunPanel("therapy", map[string]string{
		"statin": "true", "intensity": "high", "cessation": "true", "bp": "true",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value >= base.Value {
		t.Errorf("expected treated risk below baseline %v, got %v", base.Value, res.Value)
	}
	if got := res.Items[3].Value; got != "high-intensity statin, Smoking cessation, BP control (<130/80)" {
		t.Errorf("unexpected interventions %q", got)
	}

	none, err := f.RunPanel("therapy", map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if none.Items[2].Value != "N/A" {
		t.Errorf("expected no NNT without interventions, got %q", none.Items[2].Value)
	}
}

func TestLowerLDL(t *testing.T) {
	p := Patient{TC: 230, HDL: 50}
	// LDL = 230 - 50 - 30 = 150; halved to 75; TC = 75 + 50 + 30.
	if got := lowerLDL(p, 0.5); math.Abs(got-155) > 1e-9 {
		t.Errorf("expected 155, got %v", got)
	}
}
