package validation

import "github.com/ehr/medcalc/internal/engine/schema"

// Preset holds the default limits for a validation type. Limits are in the
// canonical unit of Quantity, or in Unit when the type has no quantity.
type Preset struct {
	Quantity string
	Unit     string
	Min      *float64
	Max      *float64
	WarnMin  *float64
	WarnMax  *float64
}

func limits(quantity, unit string, min, max, warnMin, warnMax float64) Preset {
	return Preset{
		Quantity: quantity,
		Unit:     unit,
		Min:      schema.Float(min),
		Max:      schema.Float(max),
		WarnMin:  schema.Float(warnMin),
		WarnMax:  schema.Float(warnMax),
	}
}

// Presets are the hard and warning limits per validation type.
var Presets = map[string]Preset{
	"age":              limits("", "years", 0, 150, 1, 120),
	"temperature":      limits("temperature", "C", 20, 45, 35, 40),
	"systolicBP":       limits("pressure", "mmHg", 50, 250, 70, 200),
	"diastolicBP":      limits("pressure", "mmHg", 30, 150, 40, 110),
	"heartRate":        limits("", "bpm", 20, 250, 40, 150),
	"respiratoryRate":  limits("", "breaths/min", 0, 100, 8, 40),
	"map":              limits("pressure", "mmHg", 20, 300, 50, 150),
	"weight":           limits("weight", "kg", 0.5, 500, 30, 200),
	"height":           limits("height", "cm", 30, 250, 100, 220),
	"glucose":          limits("glucose", "mg/dL", 10, 2000, 50, 400),
	"bun":              limits("bun", "mg/dL", 1, 200, 5, 80),
	"creatinine":       limits("creatinine", "mg/dL", 0.1, 20, 0.4, 10),
	"sodium":           limits("electrolyte", "mEq/L", 100, 200, 120, 160),
	"potassium":        limits("electrolyte", "mEq/L", 1.5, 10, 2.5, 6.5),
	"bilirubin":        limits("bilirubin", "mg/dL", 0.1, 80, 0.2, 30),
	"calcium":          limits("calcium", "mg/dL", 2, 20, 7, 12),
	"albumin":          limits("albumin", "g/dL", 0.5, 8, 2, 5.5),
	"platelets":        limits("platelet", "×10⁹/L", 1, 2000, 50, 500),
	"wbc":              limits("wbc", "×10⁹/L", 0, 500, 2, 30),
	"hemoglobin":       limits("hemoglobin", "g/dL", 1, 25, 6, 18),
	"totalCholesterol": limits("cholesterol", "mg/dL", 50, 1000, 100, 350),
	"hdl":              limits("cholesterol", "mg/dL", 10, 200, 25, 100),
	"ldl":              limits("cholesterol", "mg/dL", 10, 600, 40, 250),
	"triglycerides":    limits("triglycerides", "mg/dL", 10, 3000, 30, 500),
	"insulin":          limits("insulin", "µU/mL", 0.1, 500, 2, 100),
}

// QuantityFor maps a validation type onto a unit-catalog quantity.
func QuantityFor(validationType string) (string, bool) {
	p, ok := Presets[validationType]
	if !ok || p.Quantity == "" {
		return "", false
	}
	return p.Quantity, true
}

// QuantityOf returns the quantity a number field is measured in: the toggle's
// quantity when present, otherwise its validation type's.
func QuantityOf(n schema.Number) string {
	if n.Toggle != nil && n.Toggle.Quantity != "" {
		return n.Toggle.Quantity
	}
	q, _ := QuantityFor(n.ValidationType)
	return q
}

// DisplayUnit returns the unit a number field shows before any toggle.
func DisplayUnit(n schema.Number) string {
	if n.Toggle != nil {
		return n.Toggle.Default
	}
	if n.Unit != "" {
		return n.Unit
	}
	return Presets[n.ValidationType].Unit
}
