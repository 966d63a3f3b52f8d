// Package units converts clinical quantities between unit systems.
//
// Every quantity type declares one canonical unit. Each supported unit maps
// onto the canonical one linearly: canonical = value*Factor + Offset. Only
// temperature uses a non-zero offset.
package units

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/ehr/medcalc/internal/engine/calcerr"
)

// Unit is one supported unit of a quantity.
type Unit struct {
	Symbol   string
	Factor   float64
	Offset   float64
	Decimals int
}

func (u Unit) toCanonical(v float64) float64   { return v*u.Factor + u.Offset }
func (u Unit) fromCanonical(v float64) float64 { return (v - u.Offset) / u.Factor }

// Quantity is a measurable clinical quantity with its units. Units[0] is canonical.
type Quantity struct {
	Name  string
	Units []Unit
}

// Canonical returns the canonical unit symbol.
func (q *Quantity) Canonical() string { return q.Units[0].Symbol }

// Unit finds a unit by symbol or alias.
func (q *Quantity) Unit(symbol string) (Unit, bool) {
	s := Normalize(symbol)
	for _, u := range q.Units {
		if u.Symbol == s {
			return u, true
		}
	}
	return Unit{}, false
}

// Symbols lists the supported unit symbols, canonical first.
func (q *Quantity) Symbols() []string {
	out := make([]string, len(q.Units))
	for i, u := range q.Units {
		out[i] = u.Symbol
	}
	return out
}

// Lookup returns the quantity registered under name or one of its aliases.
func Lookup(name string) (*Quantity, bool) {
	if q, ok := catalog[name]; ok {
		return q, true
	}
	if canon, ok := quantityAliases[name]; ok {
		return catalog[canon], true
	}
	return nil, false
}

// Names lists every registered quantity type.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Canonical returns the canonical unit of quantity, "" when unknown.
func Canonical(quantity string) string {
	if q, ok := Lookup(quantity); ok {
		return q.Canonical()
	}
	return ""
}

// Supports reports whether unit is declared for quantity.
func Supports(quantity, unit string) bool {
	q, ok := Lookup(quantity)
	if !ok {
		return false
	}
	_, ok = q.Unit(unit)
	return ok
}

// Convert converts value of the given quantity from one unit to another.
func Convert(value float64, quantity, from, to string) (float64, error) {
	q, ok := Lookup(quantity)
	if !ok {
		return 0, &calcerr.UnsupportedUnitError{Quantity: quantity}
	}
	src, ok := q.Unit(from)
	if !ok {
		return 0, &calcerr.UnsupportedUnitError{Quantity: quantity, From: from, To: to}
	}
	dst, ok := q.Unit(to)
	if !ok {
		return 0, &calcerr.UnsupportedUnitError{Quantity: quantity, From: from, To: to}
	}
	if src.Symbol == dst.Symbol {
		return value, nil
	}
	return dst.fromCanonical(src.toCanonical(value)), nil
}

// ToCanonical converts value in unit to the quantity's canonical unit.
func ToCanonical(value float64, quantity, unit string) (float64, error) {
	q, ok := Lookup(quantity)
	if !ok {
		return 0, &calcerr.UnsupportedUnitError{Quantity: quantity}
	}
	return Convert(value, quantity, unit, q.Canonical())
}

// FromCanonical converts a canonical value to unit.
func FromCanonical(value float64, quantity, unit string) (float64, error) {
	q, ok := Lookup(quantity)
	if !ok {
		return 0, &calcerr.UnsupportedUnitError{Quantity: quantity}
	}
	return Convert(value, quantity, q.Canonical(), unit)
}

// Decimals returns the display precision for a unit, 2 when unknown.
func Decimals(quantity, unit string) int {
	if q, ok := Lookup(quantity); ok {
		if u, ok := q.Unit(unit); ok {
			return u.Decimals
		}
	}
	return 2
}

// Format renders value with the display precision of unit. Values that are
// not finite render empty.
func Format(value float64, quantity, unit string) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ""
	}
	return decimal.NewFromFloat(value).StringFixed(int32(Decimals(quantity, unit)))
}

// Normalize maps UCUM codes and common spellings onto catalog symbols.
// Unknown strings are returned trimmed.
func Normalize(unit string) string {
	s := strings.TrimSpace(unit)
	if s == "" {
		return s
	}
	if sym, ok := unitAliases[fold(s)]; ok {
		return sym
	}
	return s
}

// cases.Caser is stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}
