package units

var catalog = map[string]*Quantity{}

var quantityAliases = map[string]string{
	"totalCholesterol": "cholesterol",
	"tc":               "cholesterol",
	"hdl":              "cholesterol",
	"ldl":              "cholesterol",
	"platelets":        "platelet",
	"sodium":           "electrolyte",
	"potassium":        "electrolyte",
	"length":           "height",
}

var unitAliases = map[string]string{}

func register(name string, units ...Unit) {
	catalog[name] = &Quantity{Name: name, Units: units}
	for _, u := range units {
		unitAliases[fold(u.Symbol)] = u.Symbol
	}
}

func alias(symbol string, spellings ...string) {
	for _, s := range spellings {
		unitAliases[fold(s)] = symbol
	}
}

func init() {
	register("cholesterol",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 0},
		Unit{Symbol: "mmol/L", Factor: 1 / 0.02586, Decimals: 2},
	)
	register("triglycerides",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 0},
		Unit{Symbol: "mmol/L", Factor: 88.57, Decimals: 2},
	)
	register("glucose",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 0},
		Unit{Symbol: "mmol/L", Factor: 18.018, Decimals: 1},
	)
	register("creatinine",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 2},
		Unit{Symbol: "µmol/L", Factor: 1 / 88.4, Decimals: 0},
	)
	register("bun",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 0},
		Unit{Symbol: "mmol/L", Factor: 2.801, Decimals: 1},
	)
	register("calcium",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 2},
		Unit{Symbol: "mmol/L", Factor: 4.008, Decimals: 2},
	)
	register("albumin",
		Unit{Symbol: "g/dL", Factor: 1, Decimals: 1},
		Unit{Symbol: "g/L", Factor: 0.1, Decimals: 0},
	)
	register("bilirubin",
		Unit{Symbol: "mg/dL", Factor: 1, Decimals: 1},
		Unit{Symbol: "µmol/L", Factor: 1 / 17.1, Decimals: 0},
	)
	register("hemoglobin",
		Unit{Symbol: "g/dL", Factor: 1, Decimals: 1},
		Unit{Symbol: "g/L", Factor: 0.1, Decimals: 0},
		Unit{Symbol: "mmol/L", Factor: 1.611, Decimals: 1},
	)
	register("electrolyte",
		Unit{Symbol: "mEq/L", Factor: 1, Decimals: 1},
		Unit{Symbol: "mmol/L", Factor: 1, Decimals: 1},
	)
	register("weight",
		Unit{Symbol: "kg", Factor: 1, Decimals: 1},
		Unit{Symbol: "lbs", Factor: 0.453592, Decimals: 1},
		Unit{Symbol: "g", Factor: 0.001, Decimals: 0},
	)
	register("height",
		Unit{Symbol: "cm", Factor: 1, Decimals: 1},
		Unit{Symbol: "in", Factor: 2.54, Decimals: 1},
		Unit{Symbol: "ft", Factor: 30.48, Decimals: 2},
		Unit{Symbol: "m", Factor: 100, Decimals: 2},
	)
	register("temperature",
		Unit{Symbol: "C", Factor: 1, Decimals: 1},
		Unit{Symbol: "F", Factor: 5.0 / 9.0, Offset: -32 * 5.0 / 9.0, Decimals: 1},
		Unit{Symbol: "K", Factor: 1, Offset: -273.15, Decimals: 1},
	)
	register("pressure",
		Unit{Symbol: "mmHg", Factor: 1, Decimals: 0},
		Unit{Symbol: "kPa", Factor: 7.50062, Decimals: 2},
		Unit{Symbol: "bar", Factor: 750.062, Decimals: 3},
	)
	register("volume",
		Unit{Symbol: "mL", Factor: 1, Decimals: 0},
		Unit{Symbol: "L", Factor: 1000, Decimals: 2},
		Unit{Symbol: "fl oz", Factor: 29.5735, Decimals: 1},
		Unit{Symbol: "cup", Factor: 236.588, Decimals: 2},
	)
	register("platelet",
		Unit{Symbol: "×10⁹/L", Factor: 1, Decimals: 0},
		Unit{Symbol: "×10³/µL", Factor: 1, Decimals: 0},
		Unit{Symbol: "K/µL", Factor: 1, Decimals: 0},
	)
	register("wbc",
		Unit{Symbol: "×10⁹/L", Factor: 1, Decimals: 1},
		Unit{Symbol: "×10³/µL", Factor: 1, Decimals: 1},
		Unit{Symbol: "K/µL", Factor: 1, Decimals: 1},
	)
	register("ddimer",
		Unit{Symbol: "mg/L", Factor: 1, Decimals: 2},
		Unit{Symbol: "µg/mL", Factor: 1, Decimals: 2},
		Unit{Symbol: "ng/mL", Factor: 0.001, Decimals: 0},
	)
	register("fibrinogen",
		Unit{Symbol: "g/L", Factor: 1, Decimals: 2},
		Unit{Symbol: "mg/dL", Factor: 0.01, Decimals: 0},
	)
	register("insulin",
		Unit{Symbol: "µU/mL", Factor: 1, Decimals: 1},
		Unit{Symbol: "mU/L", Factor: 1, Decimals: 1},
		Unit{Symbol: "pmol/L", Factor: 0.144, Decimals: 0},
	)

	alias("µmol/L", "umol/L", "μmol/L", "micromol/L")
	alias("mmHg", "mm[Hg]", "mm Hg")
	alias("lbs", "[lb_av]", "lb", "pound", "pounds")
	alias("kg", "kilogram", "kilograms")
	alias("in", "[in_i]", "inch", "inches")
	alias("ft", "[ft_i]", "feet")
	alias("C", "Cel", "°C", "degC")
	alias("F", "[degF]", "°F", "degF")
	alias("×10⁹/L", "10*9/L", "x10^9/L")
	alias("×10³/µL", "10*3/uL", "x10^3/uL", "10^3/uL")
	alias("K/µL", "K/uL")
	alias("µg/mL", "ug/mL", "mcg/mL")
	alias("µU/mL", "uU/mL", "u[IU]/mL")
	alias("mEq/L", "meq/L")
	alias("mL", "ml")
}
