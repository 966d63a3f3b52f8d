// Package auth reads the SMART on FHIR launch context from the bearer token
// the EHR hands to embedded apps.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SMARTPatientIDKey contextKey = "smart_patient_id"
	SMARTScopesKey    contextKey = "smart_scopes"
	BearerTokenKey    contextKey = "bearer_token"
	LaunchVerifiedKey contextKey = "launch_verified"
)

// LaunchConfig selects how launch tokens are checked. With neither JWKSURL nor
// SigningKey set, claims are read without verification and the token is only
// trusted by whatever server it is forwarded to.
type LaunchConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey verifies HS256 tokens; development and tests only.
	SigningKey []byte
}

// Verifies reports whether token signatures are checked.
func (c LaunchConfig) Verifies() bool {
	return c.JWKSURL != "" || len(c.SigningKey) > 0
}

// LaunchClaims are the SMART launch claims medcalc reads.
type LaunchClaims struct {
	jwt.RegisteredClaims
	Patient  string `json:"patient"`
	TenantID string `json:"tenant_id"`
	Scope    string `json:"scope"`
	FHIRUser string `json:"fhirUser"`
}

// SMARTScope is a parsed resource scope.
// Examples: patient/Patient.read, user/Observation.read, patient/*.read
type SMARTScope struct {
	Context      string // "patient", "user", or "system"
	ResourceType string // e.g. "Patient", "Observation", "*"
	Operation    string // "read", "write", or "*"
}

// ParseSMARTScope parses a SMART on FHIR scope string into its components.
// Valid formats:
//   - patient/Patient.read
//   - user/Observation.write
//   - patient/*.read
//   - user/*.*
//
// SMART v2 suffixes (.rs, .cruds) are mapped onto read.
func ParseSMARTScope(scope string) (*SMARTScope, error) {
	slashIdx := strings.Index(scope, "/")
	if slashIdx < 0 {
		return nil, fmt.Errorf("not a resource scope: %s", scope)
	}

	ctx := scope[:slashIdx]
	remainder := scope[slashIdx+1:]

	if ctx != "patient" && ctx != "user" && ctx != "system" {
		return nil, fmt.Errorf("invalid scope context %q: must be patient, user, or system", ctx)
	}

	dotIdx := strings.LastIndex(remainder, ".")
	if dotIdx < 0 {
		return nil, fmt.Errorf("invalid scope format %q: missing operation", scope)
	}

	resourceType := remainder[:dotIdx]
	operation := remainder[dotIdx+1:]

	if resourceType == "" {
		return nil, fmt.Errorf("invalid scope %q: empty resource type", scope)
	}
	switch {
	case operation == "read" || operation == "write" || operation == "*":
	case strings.ContainsAny(operation, "rs") && strings.Trim(operation, "cruds") == "":
		operation = "read"
	default:
		return nil, fmt.Errorf("invalid operation %q: must be read, write, or *", operation)
	}

	return &SMARTScope{
		Context:      ctx,
		ResourceType: resourceType,
		Operation:    operation,
	}, nil
}

// ParseSMARTScopes parses a space separated scope claim, returning only the
// valid resource scopes.
func ParseSMARTScopes(claim string) []SMARTScope {
	var result []SMARTScope
	for _, s := range strings.Fields(claim) {
		parsed, err := ParseSMARTScope(s)
		if err != nil {
			continue // skip non-resource scopes
		}
		result = append(result, *parsed)
	}
	return result
}

// ScopeAllows checks whether scopes grant operation on resourceType.
func ScopeAllows(scopes []SMARTScope, resourceType, operation string) bool {
	for _, s := range scopes {
		if (s.ResourceType == "*" || s.ResourceType == resourceType) &&
			(s.Operation == "*" || s.Operation == operation) {
			return true
		}
	}
	return false
}

// CanPopulate reports whether scopes allow reading everything auto-population
// needs. An empty scope list places no restriction.
func CanPopulate(scopes []SMARTScope) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, rt := range []string{"Patient", "Observation", "Condition"} {
		if !ScopeAllows(scopes, rt, "read") {
			return false
		}
	}
	return true
}

// LaunchContextMiddleware reads the launch claims from an optional bearer
// token. Requests without a token proceed in standalone mode. When cfg
// verifies, a token with a bad signature, issuer, audience or expiry is
// rejected and accepted ones are marked verified in the request context.
func LaunchContextMiddleware(cfg LaunchConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	var keyFunc jwt.Keyfunc
	switch {
	case len(cfg.SigningKey) > 0:
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	case cfg.JWKSURL != "":
		keyFunc = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL).keyFunc
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return next(c)
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &LaunchClaims{}
			if keyFunc != nil {
				token, err := parser.ParseWithClaims(parts[1], claims, keyFunc)
				if err != nil || !token.Valid {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
			} else if _, _, err := parser.ParseUnverified(parts[1], claims); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			// Set values on echo context for tenant middleware
			if claims.TenantID != "" {
				c.Set("jwt_tenant_id", claims.TenantID)
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, SMARTPatientIDKey, claims.Patient)
			ctx = context.WithValue(ctx, SMARTScopesKey, ParseSMARTScopes(claims.Scope))
			ctx = context.WithValue(ctx, BearerTokenKey, parts[1])
			ctx = context.WithValue(ctx, LaunchVerifiedKey, keyFunc != nil)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// SMARTPatientIDFromContext returns the patient ID from the SMART launch context.
func SMARTPatientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(SMARTPatientIDKey).(string)
	return v
}

// SMARTScopesFromContext returns the parsed SMART scopes from context.
func SMARTScopesFromContext(ctx context.Context) []SMARTScope {
	v, _ := ctx.Value(SMARTScopesKey).([]SMARTScope)
	return v
}

// BearerTokenFromContext returns the raw launch token.
func BearerTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(BearerTokenKey).(string)
	return v
}

// LaunchVerifiedFromContext reports whether the launch token's signature was
// checked.
func LaunchVerifiedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(LaunchVerifiedKey).(bool)
	return v
}
