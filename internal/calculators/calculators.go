// Package calculators lists the built-in calculator definitions.
package calculators

import (
	"github.com/ehr/medcalc/internal/calculators/ascvd"
	"github.com/ehr/medcalc/internal/calculators/bmibsa"
	"github.com/ehr/medcalc/internal/calculators/meanbp"
	"github.com/ehr/medcalc/internal/engine"
	"github.com/ehr/medcalc/internal/engine/schema"
)

// All returns every built-in definition.
func All() []*schema.Definition {
	return []*schema.Definition{
		ascvd.Definition,
		bmibsa.Definition,
		meanbp.Definition,
	}
}

// Registry returns a registry holding every built-in definition.
func Registry() *engine.Registry {
	r := engine.NewRegistry()
	r.MustRegister(All()...)
	return r
}
