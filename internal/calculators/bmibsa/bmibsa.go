// Package bmibsa computes body mass index and body surface area.
package bmibsa

import (
	"math"
	"strconv"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/pkg/fhircodes"
)

const ID = "bmi-bsa"

// Definition is the BMI and BSA calculator.
var Definition = &schema.Definition{
	ID:          ID,
	Title:       "BMI & Body Surface Area (BSA)",
	Description: "Calculates body mass index and body surface area for clinical assessment and medication dosing.",
	Category:    "general",
	Sections: []schema.Section{{
		Title: "Patient measurements",
		Fields: []schema.Spec{
			schema.Number{
				Field:          schema.Field{ID: "weight", Label: "Weight", Required: true, Bind: schema.LOINC(fhircodes.BodyWeight)},
				ValidationType: "weight",
				Placeholder:    "e.g. 70",
				Toggle:         &schema.UnitToggle{Quantity: "weight", Units: []string{"kg", "lbs"}, Default: "kg"},
			},
			schema.Number{
				Field:          schema.Field{ID: "height", Label: "Height", Required: true, Bind: schema.LOINC(fhircodes.BodyHeight)},
				ValidationType: "height",
				Placeholder:    "e.g. 170",
				Toggle:         &schema.UnitToggle{Quantity: "height", Units: []string{"cm", "in"}, Default: "cm"},
			},
		},
	}},
	Calculate: calculate,
	Bands: []schema.Band{
		{Name: "Underweight", Max: schema.Float(18.5), Severity: schema.SeverityWarning},
		{Name: "Normal weight", Min: schema.Float(18.5), Max: schema.Float(25), Severity: schema.SeveritySuccess},
		{Name: "Overweight", Min: schema.Float(25), Max: schema.Float(30), Severity: schema.SeverityWarning},
		{Name: "Obese (Class I)", Min: schema.Float(30), Max: schema.Float(35), Severity: schema.SeverityDanger},
		{Name: "Obese (Class II)", Min: schema.Float(35), Max: schema.Float(40), Severity: schema.SeverityDanger},
		{Name: "Obese (Class III)", Min: schema.Float(40), Severity: schema.SeverityDanger},
	},
	References: []string{
		"Mosteller RD. Simplified calculation of body-surface area. N Engl J Med. 1987;317(17):1098.",
		"Du Bois D, Du Bois EF. A formula to estimate the approximate surface area if height and weight be known. Arch Intern Med. 1916;17:863-871.",
	},
}

// BMI returns weight (kg) over height (m) squared.
func BMI(kg, cm float64) float64 {
	m := cm / 100
	return kg / (m * m)
}

// Mosteller returns body surface area in m².
func Mosteller(kg, cm float64) float64 {
	return math.Sqrt(kg * cm / 3600)
}

// DuBois returns body surface area in m².
func DuBois(kg, cm float64) float64 {
	return 0.007184 * math.Pow(kg, 0.425) * math.Pow(cm, 0.725)
}

func calculate(v schema.Values, _ *schema.Slot) (schema.Result, error) {
	kg, _ := v.Number("weight")
	cm, _ := v.Number("height")
	bmi := BMI(kg, cm)
	bsa := Mosteller(kg, cm)
	if math.IsNaN(bmi) || math.IsInf(bmi, 0) || math.IsNaN(bsa) {
		return schema.Result{}, calcerr.Domain("Invalid calculation result, please check input values.")
	}
	return schema.Result{
		Label:   "Body Mass Index (BMI)",
		Value:   bmi,
		Display: strconv.FormatFloat(bmi, 'f', 1, 64),
		Unit:    "kg/m²",
		Items: []schema.Item{
			{Label: "Body Surface Area (Mosteller)", Value: strconv.FormatFloat(bsa, 'f', 2, 64), Unit: "m²"},
			{Label: "Body Surface Area (Du Bois)", Value: strconv.FormatFloat(DuBois(kg, cm), 'f', 2, 64), Unit: "m²"},
		},
	}, nil
}
