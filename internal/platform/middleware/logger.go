package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Echo context keys under which handlers record the calculator a request
// acted on and the state its pass ended in.
const (
	CalculatorKey = "calculator"
	OutcomeKey    = "outcome"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			withCalculatorContext(evt, c).
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

// withCalculatorContext adds the form, calculator, field and panel a request
// addressed, read from the route and the handler's context keys.
func withCalculatorContext(evt *zerolog.Event, c echo.Context) *zerolog.Event {
	route := c.Path()
	id := c.Param("id")
	switch {
	case id == "":
	case strings.HasPrefix(route, "/api/v1/forms/"):
		evt = evt.Str("form_id", id)
	case strings.HasPrefix(route, "/api/v1/calculators/"):
		evt = evt.Str(CalculatorKey, id)
	}
	if calc, ok := c.Get(CalculatorKey).(string); ok && calc != "" {
		evt = evt.Str(CalculatorKey, calc)
	}
	if outcome, ok := c.Get(OutcomeKey).(string); ok && outcome != "" {
		evt = evt.Str(OutcomeKey, outcome)
	}
	if field := c.Param("field"); field != "" {
		evt = evt.Str("field", field)
	}
	if panel := c.Param("panel"); panel != "" {
		evt = evt.Str("panel", panel)
	}
	return evt
}
