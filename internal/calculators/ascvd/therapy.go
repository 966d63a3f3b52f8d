package ascvd

import (
	"math"
	"strconv"
	"strings"

	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/schema"
)

// Triglycerides assumed by the Friedewald estimate when adjusting LDL.
const assumedTriglycerides = 150

// Target systolic pressure under BP control.
const targetSBP = 130

var statinReduction = map[string]float64{
	"low":      0.25,
	"moderate": 0.4,
	"high":     0.5,
}

var addOnReduction = map[string]float64{
	"ezetimibe": 0.175,
	"pcsk9":     0.55,
}

var therapyPanel = schema.Panel{
	ID:    "therapy",
	Title: "Therapy impact",
	Inputs: []schema.Spec{
		schema.Checkbox{Field: schema.Field{ID: "statin", Label: "Statin therapy"}},
		schema.Select{
			Field: schema.Field{ID: "intensity", Label: "Statin intensity"},
			Options: []schema.Option{
				{Value: "moderate", Label: "Moderate-intensity (30-50% LDL reduction)"},
				{Value: "high", Label: "High-intensity (≥50% LDL reduction)"},
				{Value: "low", Label: "Low-intensity (<30% LDL reduction)"},
			},
			Default: "moderate",
		},
		schema.Checkbox{Field: schema.Field{ID: "cessation", Label: "Smoking cessation"}},
		schema.Checkbox{Field: schema.Field{ID: "bp", Label: "BP control (target <130/80)"}},
		schema.Select{
			Field: schema.Field{ID: "addon", Label: "Additional therapy"},
			Options: []schema.Option{
				{Value: "none", Label: "None"},
				{Value: "ezetimibe", Label: "Ezetimibe (+15-20% LDL reduction)"},
				{Value: "pcsk9", Label: "PCSK9 inhibitor (+50-60% LDL reduction)"},
			},
			Default: "none",
		},
	},
	Run: runTherapy,
}

// lowerLDL applies a fractional LDL reduction and returns the implied total
// cholesterol, holding HDL and triglycerides fixed.
func lowerLDL(p Patient, reduction float64) float64 {
	ldl := p.TC - p.HDL - assumedTriglycerides/5
	return ldl*(1-reduction) + p.HDL + assumedTriglycerides/5
}

func runTherapy(slot *schema.Slot, in schema.Values) (schema.Result, error) {
	baseline, ok := slot.Float(slotBaseline)
	raw, _ := slot.Get(slotPatient)
	p, isPatient := raw.(Patient)
	if !ok || !isPatient || baseline <= 0 {
		return schema.Result{}, calcerr.Domain("Calculate baseline risk first.")
	}

	var interventions []string
	if in.Bool("statin") {
		intensity := in.Text("intensity")
		p.TC = lowerLDL(p, statinReduction[intensity])
		interventions = append(interventions, intensity+"-intensity statin")
	}
	if in.Bool("cessation") && p.Smoker {
		p.Smoker = false
		interventions = append(interventions, "Smoking cessation")
	}
	if in.Bool("bp") && p.SBP > targetSBP {
		p.SBP = targetSBP
		p.OnHtnTx = true
		interventions = append(interventions, "BP control (<130/80)")
	}
	if red, ok := addOnReduction[in.Text("addon")]; ok {
		p.TC = lowerLDL(p, red)
		if in.Text("addon") == "pcsk9" {
			interventions = append(interventions, "PCSK9 inhibitor")
		} else {
			interventions = append(interventions, "Ezetimibe")
		}
	}

	treated := Risk(p)
	arr := math.Max(0, baseline-treated)
	nnt, nntNote := "N/A", "No risk reduction with the selected interventions."
	if arr > 0 {
		n := strconv.Itoa(int(math.Round(100 / arr)))
		nnt, nntNote = n, "Treat "+n+" patients for 10 years to prevent one event."
	}
	applied := strings.Join(interventions, ", ")
	if applied == "" {
		applied = "None selected"
	}

	return schema.Result{
		Label:   "Treated Risk",
		Value:   treated,
		Display: strconv.FormatFloat(treated, 'f', 1, 64),
		Unit:    "%",
		Items: []schema.Item{
			{Label: "Baseline Risk", Value: strconv.FormatFloat(baseline, 'f', 1, 64), Unit: "%"},
			{Label: "Absolute Risk Reduction", Value: strconv.FormatFloat(arr, 'f', 1, 64), Unit: "%"},
			{Label: "Number Needed to Treat (10yr)", Value: nnt, Note: nntNote},
			{Label: "Interventions", Value: applied},
		},
	}, nil
}
