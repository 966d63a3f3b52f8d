// Package ascvd implements the 2013 ACC/AHA Pooled Cohort Equations for
// 10-year atherosclerotic cardiovascular disease risk.
package ascvd

import (
	"strconv"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
	"github.com/ehr/medcalc/pkg/fhircodes"
)

const (
	ID = "ascvd"

	// SecondaryPrevention is the category reported for known clinical ASCVD.
	SecondaryPrevention = "Secondary Prevention"

	slotBaseline = "baseline-risk"
	slotPatient  = "patient"
)

var yesNo = []schema.Option{{Value: "no", Label: "No"}, {Value: "yes", Label: "Yes"}}

func cholesterolToggle() *schema.UnitToggle {
	return &schema.UnitToggle{Quantity: "cholesterol", Units: []string{"mg/dL", "mmol/L"}, Default: "mg/dL"}
}

// Definition is the ASCVD risk calculator.
var Definition = &schema.Definition{
	ID:          ID,
	Title:       "ASCVD Risk Calculator (Pooled Cohort Equations)",
	Description: "Estimates the 10-year risk of a first atherosclerotic cardiovascular event for adults aged 40 to 79.",
	Category:    "cardiovascular",
	Sections: []schema.Section{
		{
			Title: "Clinical history",
			Fields: []schema.Spec{
				schema.Checkbox{
					Field: schema.Field{
						ID:       "known",
						Label:    "Known clinical ASCVD (prior MI, stroke or PAD)",
						HelpText: "Risk estimation does not apply; secondary prevention is indicated.",
						Bind:     schema.SNOMED(fhircodes.MyocardialInfarction + "," + fhircodes.Stroke + "," + fhircodes.PeripheralArterial),
					},
					Escape: true,
				},
			},
		},
		{
			Title: "Demographics",
			Fields: []schema.Spec{
				schema.Number{
					Field:          schema.Field{ID: "age", Label: "Age", Required: true, HelpText: "Valid for ages 40-79.", Bind: schema.Age()},
					ValidationType: "age",
					Placeholder:    "40-79",
					Step:           "1",
				},
				schema.Radio{
					Field:   schema.Field{ID: "sex", Label: "Sex", Required: true, Bind: schema.Gender()},
					Options: []schema.Option{{Value: "male", Label: "Male"}, {Value: "female", Label: "Female"}},
					Default: "male",
				},
				schema.Radio{
					Field: schema.Field{ID: "race", Label: "Race", Required: true},
					Options: []schema.Option{
						{Value: RaceWhite, Label: "White"},
						{Value: RaceAA, Label: "African American"},
						{Value: RaceOther, Label: "Other"},
					},
					Default: RaceWhite,
				},
			},
		},
		{
			Title: "Lipids and blood pressure",
			Fields: []schema.Spec{
				schema.Number{
					Field:          schema.Field{ID: "tc", Label: "Total Cholesterol", Required: true, Bind: schema.LOINC(fhircodes.CholesterolTotal)},
					ValidationType: "totalCholesterol",
					Toggle:         cholesterolToggle(),
				},
				schema.Number{
					Field:          schema.Field{ID: "hdl", Label: "HDL Cholesterol", Required: true, Bind: schema.LOINC(fhircodes.HDL + "," + fhircodes.HDLAlt)},
					ValidationType: "hdl",
					Toggle:         cholesterolToggle(),
				},
				schema.Number{
					Field:          schema.Field{ID: "sbp", Label: "Systolic Blood Pressure", Required: true, Bind: schema.LOINC(fhircodes.SystolicBP)},
					ValidationType: "systolicBP",
				},
			},
		},
		{
			Title: "Risk factors",
			Fields: []schema.Spec{
				schema.Radio{
					Field:   schema.Field{ID: "htn", Label: "On hypertension treatment?", Bind: schema.SNOMED(fhircodes.Hypertension)},
					Options: yesNo,
					Default: "no",
				},
				schema.Radio{
					Field:   schema.Field{ID: "dm", Label: "Diabetes?", Bind: schema.SNOMED(fhircodes.DiabetesType2 + "," + fhircodes.DiabetesMellitus)},
					Options: yesNo,
					Default: "no",
				},
				schema.Radio{
					Field:   schema.Field{ID: "smoker", Label: "Current smoker?", Bind: schema.SNOMED(fhircodes.Smoker)},
					Options: yesNo,
					Default: "no",
				},
			},
		},
	},
	Gate: schema.WhenChecked("known"),
	CrossRules: []schema.CrossRule{{
		Fields: []string{"tc", "hdl"},
		Check: func(v schema.Values) string {
			tc, _ := v.Number("tc")
			hdl, _ := v.Number("hdl")
			if hdl >= tc {
				return "HDL cholesterol must be lower than total cholesterol."
			}
			return ""
		},
	}},
	Calculate: calculate,
	Bands: []schema.Band{
		{Name: "Low Risk (<5%)", Max: schema.Float(5), Severity: schema.SeveritySuccess,
			Recommendation: "Emphasize lifestyle modifications."},
		{Name: "Borderline Risk (5-7.4%)", Min: schema.Float(5), Max: schema.Float(7.5), Severity: schema.SeverityWarning,
			Recommendation: "Discuss risk. Consider moderate-intensity statin."},
		{Name: "Intermediate Risk (7.5-19.9%)", Min: schema.Float(7.5), Max: schema.Float(20), Severity: schema.SeverityWarning,
			Recommendation: "Initiate moderate-intensity statin."},
		{Name: "High Risk (≥20%)", Min: schema.Float(20), Severity: schema.SeverityDanger,
			Recommendation: "Initiate high-intensity statin."},
		{Name: SecondaryPrevention, Severity: schema.SeverityDanger,
			Recommendation: "Known clinical ASCVD. High-intensity statin therapy is indicated."},
	},
	Panels: []schema.Panel{therapyPanel},
	References: []string{
		"Goff DC Jr, Lloyd-Jones DM, Bennett G, et al. 2013 ACC/AHA Guideline on the Assessment of Cardiovascular Risk. Circulation. 2014;129(25 Suppl 2):S49-S73.",
		"Arnett DK, Blumenthal RS, Albert MA, et al. 2019 ACC/AHA Guideline on the Primary Prevention of Cardiovascular Disease. Circulation. 2019;140:e596-e646.",
	},
}

func calculate(v schema.Values, slot *schema.Slot) (schema.Result, error) {
	if v.Bool("known") {
		return schema.Result{
			Label:    "10-Year ASCVD Risk",
			Display:  "High Risk",
			Category: SecondaryPrevention,
			Notes:    []string{"Known clinical ASCVD (history of MI, stroke or PAD): risk equations do not apply."},
		}, nil
	}

	age, _ := v.Number("age")
	if age < 40 || age > 79 {
		return schema.Result{}, calcerr.Domain("The Pooled Cohort Equations are valid for ages 40-79 (got %g).", age)
	}
	p := Patient{
		Age:      age,
		Male:     v.Text("sex") != "female",
		Race:     v.Text("race"),
		OnHtnTx:  v.Bool("htn"),
		Diabetic: v.Bool("dm"),
		Smoker:   v.Bool("smoker"),
	}
	p.TC, _ = v.Number("tc")
	p.HDL, _ = v.Number("hdl")
	p.SBP, _ = v.Number("sbp")
	if p.Race == "" {
		p.Race = RaceWhite
	}

	risk := Risk(p)
	slot.Set(slotBaseline, risk)
	slot.Set(slotPatient, p)

	res := schema.Result{
		Label:   "10-Year ASCVD Risk",
		Value:   risk,
		Display: strconv.FormatFloat(risk, 'f', 1, 64),
		Unit:    "%",
	}
	if p.Race == RaceOther {
		res.Notes = append(res.Notes, `Risk for "Other" race may be over- or underestimated; the white cohort equations are used.`)
	}
	return res, nil
}
