// Package meanbp computes mean arterial pressure from systolic and
// diastolic readings.
package meanbp

import (
	"strconv"

	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/pkg/fhircodes"
)

const ID = "map"

// Definition is the mean arterial pressure calculator.
var Definition = &schema.Definition{
	ID:          ID,
	Title:       "Mean Arterial Pressure (MAP)",
	Description: "Average arterial pressure over one cardiac cycle, used to assess organ perfusion.",
	Category:    "general",
	Sections: []schema.Section{{
		Title: "Blood pressure",
		Fields: []schema.Spec{
			schema.Number{
				Field:          schema.Field{ID: "sbp", Label: "Systolic BP", Required: true, Bind: schema.LOINC(fhircodes.SystolicBP)},
				ValidationType: "systolicBP",
				Placeholder:    "e.g. 120",
			},
			schema.Number{
				Field:          schema.Field{ID: "dbp", Label: "Diastolic BP", Required: true, Bind: schema.LOINC(fhircodes.DiastolicBP)},
				ValidationType: "diastolicBP",
				Placeholder:    "e.g. 80",
			},
		},
	}},
	CrossRules: []schema.CrossRule{{
		Fields: []string{"sbp", "dbp"},
		Check: func(v schema.Values) string {
			sbp, _ := v.Number("sbp")
			dbp, _ := v.Number("dbp")
			if sbp < dbp {
				return "Systolic BP must be greater than or equal to diastolic BP."
			}
			return ""
		},
	}},
	Calculate: func(v schema.Values, _ *schema.Slot) (schema.Result, error) {
		sbp, _ := v.Number("sbp")
		dbp, _ := v.Number("dbp")
		m := Compute(sbp, dbp)
		return schema.Result{
			Label:   "Mean Arterial Pressure",
			Value:   m,
			Display: strconv.FormatFloat(m, 'f', 1, 64),
			Unit:    "mmHg",
			Items: []schema.Item{
				{Label: "Pulse Pressure", Value: strconv.FormatFloat(sbp-dbp, 'f', 0, 64), Unit: "mmHg"},
			},
			Notes: []string{"MAP above 65 mmHg is generally required to maintain adequate organ perfusion."},
		}, nil
	},
	Bands: []schema.Band{
		{Name: "Critically Low (Shock Risk)", Max: schema.Float(60), Severity: schema.SeverityDanger,
			Recommendation: "MAP below 60 mmHg indicates severe hypotension and risk of organ hypoperfusion."},
		{Name: "Below Normal", Min: schema.Float(60), Max: schema.Float(70), Severity: schema.SeverityWarning,
			Recommendation: "Borderline low MAP. Monitor closely."},
		{Name: "Normal", Min: schema.Float(70), Max: schema.Float(100), UpperInclusive: true, Severity: schema.SeveritySuccess,
			Recommendation: "Normal MAP (70-100 mmHg) indicates adequate organ perfusion."},
		{Name: "Elevated (Hypertension)", Min: schema.Float(100), Severity: schema.SeverityDanger,
			Recommendation: "Sustained MAP above 100 mmHg requires management."},
	},
	References: []string{
		"DeMers D, Wachs D. Physiology, Mean Arterial Pressure. StatPearls Publishing; 2023.",
	},
}

// Compute returns DBP + (SBP - DBP) / 3.
func Compute(sbp, dbp float64) float64 {
	return dbp + (sbp-dbp)/3
}
