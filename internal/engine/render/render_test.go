package render

import (
	"strings"
	"testing"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
)

func testDefinition() *schema.Definition {
	return &schema.Definition{
		ID:    "demo",
		Title: "Demo Score",
		Sections: []schema.Section{{
			Title: "Inputs",
			Fields: []schema.Spec{
				schema.Number{
					Field:          schema.Field{ID: "tc", Label: "Total Cholesterol", Required: true},
					ValidationType: "totalCholesterol",
					Toggle:         &schema.UnitToggle{Quantity: "cholesterol", Units: []string{"mg/dL", "mmol/L"}, Default: "mg/dL"},
				},
				schema.Number{Field: schema.Field{ID: "age", Label: "Age"}, ValidationType: "age"},
				schema.Radio{
					Field:   schema.Field{ID: "sex", Label: "Sex"},
					Options: []schema.Option{{Value: "male", Label: "Male"}, {Value: "female", Label: "Female"}},
					Default: "male",
				},
				schema.Checkbox{Field: schema.Field{ID: "known", Label: "Known disease"}, Escape: true},
				schema.Select{
					Field:   schema.Field{ID: "race", Label: "Race"},
					Options: []schema.Option{{Value: "white", Label: "White"}, {Value: "other", Label: "Other"}},
				},
			},
		}},
		Panels:     []schema.Panel{{ID: "therapy", Title: "Therapy"}},
		References: []string{"Doe J. A score. 2013."},
	}
}

func TestRender_Deterministic(t *testing.T) {
	def := testDefinition()
	a, b := Render(def), Render(def)
	if a != b {
		t.Fatal("expected identical markup for identical definitions")
	}
}

func TestRender_ContainsEveryExpectedID(t *testing.T) {
	def := testDefinition()
	c, err := NewContainer(Render(def))
	if err != nil {
		t.Fatal(err)
	}
	if missing := c.Missing(ExpectedIDs(def)); len(missing) > 0 {
		t.Fatalf("rendered markup lacks ids %v", missing)
	}
	if !c.Has(UnitID("demo", "tc")) {
		t.Error("expected unit toggle for tc")
	}
	if c.Has(UnitID("demo", "age")) {
		t.Error("age has no toggle")
	}
}

func TestRender_IdempotentAfterReparse(t *testing.T) {
	def := testDefinition()
	c1, _ := NewContainer(Render(def))
	c2, _ := NewContainer(Render(def))
	h1, err := c1.HTML()
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := c2.HTML()
	if h1 != h2 {
		t.Error("expected identical documents")
	}
}

func TestContainer_Mutations(t *testing.T) {
	def := testDefinition()
	c, _ := NewContainer(Render(def))

	if !c.SetValue(FieldID("demo", "tc"), "213") {
		t.Fatal("expected value write to succeed")
	}
	if got := c.Value(FieldID("demo", "tc")); got != "213" {
		t.Errorf("expected 213, got %q", got)
	}

	c.SetChoice(FieldID("demo", "sex"), "female")
	frag, _ := c.Fragment(FieldID("demo", "sex"))
	if !strings.Contains(frag, `value="female" checked`) {
		t.Errorf("expected female checked: %s", frag)
	}
	if strings.Contains(frag, `value="male" checked`) {
		t.Errorf("expected male cleared: %s", frag)
	}

	c.SetChoice(FieldID("demo", "race"), "other")
	frag, _ = c.Fragment(FieldID("demo", "race"))
	if !strings.Contains(frag, `value="other" selected`) {
		t.Errorf("expected select option: %s", frag)
	}

	c.SetUnit(FieldID("demo", "tc"), "mmol/L")
	frag, _ = c.Fragment(UnitID("demo", "tc"))
	if !strings.Contains(frag, `value="mmol/L" selected`) {
		t.Errorf("expected mmol/L selected: %s", frag)
	}

	c.Patch(ResultID("demo"), "<b>ok</b>")
	frag, _ = c.Fragment(ResultID("demo"))
	if strings.Contains(frag, "hidden") || !strings.Contains(frag, "<b>ok</b>") {
		t.Errorf("expected visible patched region: %s", frag)
	}
	c.Patch(ResultID("demo"), "")
	frag, _ = c.Fragment(ResultID("demo"))
	if !strings.Contains(frag, "hidden") {
		t.Errorf("expected empty patch to hide region: %s", frag)
	}
}

func TestContainer_DetachedIgnoresWrites(t *testing.T) {
	c, _ := NewContainer(Render(testDefinition()))
	c.Detach()
	if c.SetValue(FieldID("demo", "tc"), "1") {
		t.Error("expected write to be refused after detach")
	}
	if !c.Detached() {
		t.Error("expected detached")
	}
}

func TestErrorMarkup(t *testing.T) {
	out := ErrorMarkup(&calcerr.MissingDataError{Fields: []string{"tc"}, Labels: []string{"Total Cholesterol"}})
	if !strings.Contains(out, "Total Cholesterol") || !strings.Contains(out, "ui-alert-info") {
		t.Errorf("unexpected markup: %s", out)
	}
	out = ErrorMarkup(calcerr.Domain("age must be between 40 and 79"))
	if !strings.Contains(out, "ui-alert-danger") {
		t.Errorf("expected danger alert: %s", out)
	}
}

func TestResultMarkup_Band(t *testing.T) {
	band := schema.Band{Name: "High Risk", Severity: schema.SeverityDanger, Recommendation: "Start high-intensity statin."}
	out := ResultMarkup(schema.Result{Label: "10-Year ASCVD Risk", Display: "21.3", Unit: "%", Band: &band})
	for _, want := range []string{"21.3", "High Risk", "ui-danger", "Start high-intensity statin."} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %s", want, out)
		}
	}
}
