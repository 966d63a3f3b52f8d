package fhirclient

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gofhir/fhirpath"
	"github.com/tidwall/gjson"

	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/pkg/fhircodes"
)

var (
	exprMu    sync.RWMutex
	exprCache = map[string]*fhirpath.Expression{}
)

func compiled(expr string) (*fhirpath.Expression, error) {
	exprMu.RLock()
	c, ok := exprCache[expr]
	exprMu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := fhirpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	exprMu.Lock()
	exprCache[expr] = c
	exprMu.Unlock()
	return c, nil
}

// first evaluates expr and returns the first item as text.
func first(resource []byte, expr string) (string, bool, error) {
	c, err := compiled(expr)
	if err != nil {
		return "", false, err
	}
	out, err := c.Evaluate(resource)
	if err != nil {
		return "", false, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	if out.Empty() {
		return "", false, nil
	}
	return fmt.Sprint(out[0]), true, nil
}

const usableStatus = `Observation.status = 'final' or Observation.status = 'amended' or Observation.status = 'corrected'`

// truthy evaluates expr under FHIRPath boolean semantics; empty is false.
func truthy(resource []byte, expr string) (bool, error) {
	c, err := compiled(expr)
	if err != nil {
		return false, err
	}
	out, err := c.Evaluate(resource)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	if out.Empty() {
		return false, nil
	}
	b, err := out.ToBoolean()
	return err == nil && b, nil
}

// observationValue extracts the numeric value for code from an Observation,
// either from valueQuantity or from a matching component. Observations that
// are not final, or carry no quantity, yield nil.
func observationValue(resource []byte, code string) (*clinicaldata.Snapshot, error) {
	usable, err := truthy(resource, usableStatus)
	if err != nil || !usable {
		return nil, err
	}

	quantity := "Observation.valueQuantity"
	obs := gjson.ParseBytes(resource)
	q := obs.Get("valueQuantity")
	if _, isComponent := fhircodes.BPComponents[code]; isComponent {
		own, err := truthy(resource, fmt.Sprintf("Observation.code.coding.where(code = '%s').exists()", code))
		if err != nil {
			return nil, err
		}
		if !own {
			quantity = fmt.Sprintf("Observation.component.where(code.coding.where(code = '%s').exists()).valueQuantity", code)
			q = component(obs, code).Get("valueQuantity")
		}
	}

	raw, found, err := first(resource, quantity+".value")
	if err != nil || !found {
		return nil, err
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("observation %s value %q: %w", code, raw, err)
	}
	snap := &clinicaldata.Snapshot{Code: code, Value: value, Unit: q.Get("code").String()}
	if snap.Unit == "" {
		snap.Unit = q.Get("unit").String()
	}
	for _, field := range []string{"effectiveDateTime", "effectiveInstant", "effectivePeriod.start", "issued"} {
		if t, err := parseFHIRDate(obs.Get(field).String()); err == nil {
			snap.Timestamp = t
			break
		}
	}
	return snap, nil
}

func component(obs gjson.Result, code string) gjson.Result {
	var match gjson.Result
	obs.Get("component").ForEach(func(_, comp gjson.Result) bool {
		comp.Get("code.coding").ForEach(func(_, coding gjson.Result) bool {
			if coding.Get("code").String() == code {
				match = comp
				return false
			}
			return true
		})
		return !match.Exists()
	})
	return match
}
