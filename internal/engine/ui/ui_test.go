package ui

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func parse(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("parse markup: %v", err)
	}
	return doc
}

func TestNumberInput_WithUnitToggle(t *testing.T) {
	doc := parse(t, NumberInput(NumberOpts{
		ID: "ascvd-tc", Field: "tc", Label: "Total Cholesterol",
		Units: []string{"mg/dL", "mmol/L"}, DefaultUnit: "mg/dL", Required: true,
	}))
	if doc.Find("#ascvd-tc").Length() != 1 {
		t.Fatal("expected input with stable id")
	}
	if doc.Find(".ui-required").Length() != 1 {
		t.Error("expected required marker")
	}
	sel := doc.Find("#ascvd-tc-unit option[selected]")
	if sel.Length() != 1 || sel.AttrOr("value", "") != "mg/dL" {
		t.Errorf("expected mg/dL selected, got %q", sel.AttrOr("value", ""))
	}
	if doc.Find("#ascvd-tc-note").Length() != 1 {
		t.Error("expected data note slot")
	}
}

func TestRadioGroup_OneNamePerGroup(t *testing.T) {
	doc := parse(t, RadioGroup(ChoiceOpts{
		ID: "ascvd-sex", Field: "sex", Label: "Sex",
		Options: []Choice{{Value: "male", Label: "Male", Checked: true}, {Value: "female", Label: "Female"}},
	}))
	inputs := doc.Find(`#ascvd-sex input[type="radio"]`)
	if inputs.Length() != 2 {
		t.Fatalf("expected 2 radios, got %d", inputs.Length())
	}
	inputs.Each(func(_ int, s *goquery.Selection) {
		if s.AttrOr("name", "") != "ascvd-sex" {
			t.Errorf("expected shared name, got %q", s.AttrOr("name", ""))
		}
	})
	if v := doc.Find(`#ascvd-sex input[checked]`).AttrOr("value", ""); v != "male" {
		t.Errorf("expected male checked, got %q", v)
	}
}

func TestEscaping(t *testing.T) {
	out := Alert("danger", "Error", `<script>alert("x")</script>`)
	if strings.Contains(out, "<script>") {
		t.Errorf("expected message to be escaped: %s", out)
	}
}

func TestRegion_StartsHidden(t *testing.T) {
	doc := parse(t, Region("ascvd-result", "ui-result-box"))
	if _, ok := doc.Find("#ascvd-result").Attr("hidden"); !ok {
		t.Error("expected hidden region")
	}
}
