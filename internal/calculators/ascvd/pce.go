package ascvd

import "math"

// Race cohorts of the Pooled Cohort Equations. Other uses the white
// coefficients.
const (
	RaceWhite = "white"
	RaceAA    = "aa"
	RaceOther = "other"
)

// Patient holds the inputs of the Pooled Cohort Equations in canonical
// units (mg/dL, mmHg).
type Patient struct {
	Age      float64
	TC       float64
	HDL      float64
	SBP      float64
	Male     bool
	Race     string
	OnHtnTx  bool
	Diabetic bool
	Smoker   bool
}

type coefficients struct {
	lnAge, lnAgeSq, lnTC, lnAgeLnTC, lnHDL, lnAgeLnHDL float64
	lnSBPTreated, lnSBPUntreated                       float64
	lnAgeLnSBPTreated, lnAgeLnSBPUntreated             float64
	smoker, lnAgeSmoker, diabetes                      float64
	mean, baseline                                     float64
}

// Goff DC Jr, et al. Circulation. 2014;129:S49-S73.
var (
	whiteMale = coefficients{
		lnAge: 12.344, lnTC: 11.853, lnAgeLnTC: -2.664, lnHDL: -7.99, lnAgeLnHDL: 1.769,
		lnSBPTreated: 1.797, lnSBPUntreated: 1.764,
		smoker: 7.837, lnAgeSmoker: -1.795, diabetes: 0.658,
		mean: 61.18, baseline: 0.9144,
	}
	aaMale = coefficients{
		lnAge: 2.469, lnTC: 0.302, lnHDL: -0.307,
		lnSBPTreated: 1.916, lnSBPUntreated: 1.809,
		smoker: 0.549, diabetes: 0.645,
		mean: 19.54, baseline: 0.8954,
	}
	whiteFemale = coefficients{
		lnAge: -29.799, lnAgeSq: 4.884, lnTC: 13.54, lnAgeLnTC: -3.114, lnHDL: -13.578, lnAgeLnHDL: 3.149,
		lnSBPTreated: 2.019, lnSBPUntreated: 1.957,
		smoker: 7.574, lnAgeSmoker: -1.665, diabetes: 0.661,
		mean: -29.18, baseline: 0.9665,
	}
	aaFemale = coefficients{
		lnAge: 17.114, lnTC: 0.94, lnHDL: -18.92, lnAgeLnHDL: 4.475,
		lnSBPTreated: 29.291, lnSBPUntreated: 27.82,
		lnAgeLnSBPTreated: -6.432, lnAgeLnSBPUntreated: -6.087,
		smoker: 0.691, diabetes: 0.874,
		mean: 86.61, baseline: 0.9533,
	}
)

func cohort(p Patient) coefficients {
	aa := p.Race == RaceAA
	switch {
	case p.Male && aa:
		return aaMale
	case p.Male:
		return whiteMale
	case aa:
		return aaFemale
	}
	return whiteFemale
}

// Risk returns the 10-year ASCVD risk in percent, clamped to [0, 100].
func Risk(p Patient) float64 {
	c := cohort(p)
	lnAge := math.Log(p.Age)
	lnTC := math.Log(p.TC)
	lnHDL := math.Log(p.HDL)
	lnSBP := math.Log(p.SBP)

	sum := c.lnAge*lnAge +
		c.lnAgeSq*lnAge*lnAge +
		c.lnTC*lnTC +
		c.lnAgeLnTC*lnAge*lnTC +
		c.lnHDL*lnHDL +
		c.lnAgeLnHDL*lnAge*lnHDL
	if p.OnHtnTx {
		sum += c.lnSBPTreated*lnSBP + c.lnAgeLnSBPTreated*lnAge*lnSBP
	} else {
		sum += c.lnSBPUntreated*lnSBP + c.lnAgeLnSBPUntreated*lnAge*lnSBP
	}
	if p.Smoker {
		sum += c.smoker + c.lnAgeSmoker*lnAge
	}
	if p.Diabetic {
		sum += c.diabetes
	}

	risk := (1 - math.Pow(c.baseline, math.Exp(sum-c.mean))) * 100
	return math.Max(0, math.Min(100, risk))
}
