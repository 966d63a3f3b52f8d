// Package calcerr defines the error taxonomy shared by the calculator engine.
package calcerr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind classifies an engine error.
type Kind string

const (
	KindMissingData     Kind = "missing-data"
	KindOutOfRange      Kind = "out-of-range"
	KindInvalidFormat   Kind = "invalid-format"
	KindCrossField      Kind = "cross-field"
	KindUnsupportedUnit Kind = "unsupported-unit"
	KindDomain          Kind = "calculator-domain"
)

// Error is implemented by every engine error.
type Error interface {
	error
	Kind() Kind
}

// UserFacing reports whether errors of kind k are rendered in the result region.
// Unsupported units are schema defects and are only logged.
func UserFacing(k Kind) bool {
	return k != KindUnsupportedUnit
}

// MissingDataError lists every required field that has no value.
type MissingDataError struct {
	Fields []string
	Labels []string
}

func (e *MissingDataError) Kind() Kind { return KindMissingData }

func (e *MissingDataError) Error() string {
	names := e.Labels
	if len(names) == 0 {
		names = e.Fields
	}
	if len(names) == 1 {
		return fmt.Sprintf("Please fill in the required field: %s", names[0])
	}
	return fmt.Sprintf("Please fill in the required fields: %s", strings.Join(names, ", "))
}

// OutOfRangeError carries the offending value and the bound it crossed.
type OutOfRangeError struct {
	Field string
	Label string
	Value float64
	Bound float64
	Below bool
	Unit  string
}

func (e *OutOfRangeError) Kind() Kind { return KindOutOfRange }

func (e *OutOfRangeError) Error() string {
	rel := "at most"
	if e.Below {
		rel = "at least"
	}
	unit := ""
	if e.Unit != "" {
		unit = " " + e.Unit
	}
	return fmt.Sprintf("%s must be %s %s%s (got %s)", e.Label, rel, num(e.Bound), unit, num(e.Value))
}

// InvalidFormatError is returned when input cannot be coerced to the
// field's kind: non-numeric text for a number, or an unknown option.
type InvalidFormatError struct {
	Field  string
	Label  string
	Raw    string
	Choice bool
}

func (e *InvalidFormatError) Kind() Kind { return KindInvalidFormat }

func (e *InvalidFormatError) Error() string {
	if e.Choice {
		return fmt.Sprintf("%s has no option %q", e.Label, e.Raw)
	}
	return fmt.Sprintf("%s must be a number (got %q)", e.Label, e.Raw)
}

// CrossFieldError reports a violated relation between fields.
type CrossFieldError struct {
	Fields  []string
	Message string
}

func (e *CrossFieldError) Kind() Kind { return KindCrossField }

func (e *CrossFieldError) Error() string { return e.Message }

// UnsupportedUnitError indicates a conversion outside the unit catalog.
type UnsupportedUnitError struct {
	Quantity string
	From     string
	To       string
}

func (e *UnsupportedUnitError) Kind() Kind { return KindUnsupportedUnit }

func (e *UnsupportedUnitError) Error() string {
	if e.From == "" && e.To == "" {
		return fmt.Sprintf("unsupported quantity type %q", e.Quantity)
	}
	return fmt.Sprintf("unsupported unit conversion for %q: %q -> %q", e.Quantity, e.From, e.To)
}

// DomainError is raised by a calculate function that rejects its input.
type DomainError struct {
	Message string
}

func (e *DomainError) Kind() Kind { return KindDomain }

func (e *DomainError) Error() string { return e.Message }

// Domain is shorthand for a formatted DomainError.
func Domain(format string, args ...any) *DomainError {
	return &DomainError{Message: fmt.Sprintf(format, args...)}
}

func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
