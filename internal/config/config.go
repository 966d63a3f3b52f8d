package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Clinical-data sources a form can be populated from.
const (
	SourceNone  = "none"
	SourceFHIR  = "fhir"
	SourceEHRDB = "ehrdb"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ClinicalSource     string        `mapstructure:"CLINICAL_SOURCE"`
	FHIRBaseURL        string        `mapstructure:"FHIR_BASE_URL"`
	FHIRRetryMax       int           `mapstructure:"FHIR_RETRY_MAX"`
	FetchTimeout       time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FHIRRateLimitRPS   float64       `mapstructure:"FHIR_RATE_LIMIT_RPS"`
	FHIRRateLimitBurst int           `mapstructure:"FHIR_RATE_LIMIT_BURST"`
	BreakerMaxFailures uint32        `mapstructure:"BREAKER_MAX_FAILURES"`
	BreakerCooldown    time.Duration `mapstructure:"BREAKER_COOLDOWN"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string `mapstructure:"DEFAULT_TENANT"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	StalenessDays   int           `mapstructure:"STALENESS_DAYS"`
	PopulateTimeout time.Duration `mapstructure:"POPULATE_TIMEOUT"`
	FormTTL         time.Duration `mapstructure:"FORM_TTL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE", "REQUEST_TIMEOUT",
	"CLINICAL_SOURCE", "FHIR_BASE_URL", "FHIR_RETRY_MAX", "FETCH_TIMEOUT",
	"FHIR_RATE_LIMIT_RPS", "FHIR_RATE_LIMIT_BURST", "BREAKER_MAX_FAILURES", "BREAKER_COOLDOWN",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"STALENESS_DAYS", "POPULATE_TIMEOUT", "FORM_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TRACING_ENABLED", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
}

// Load reads configuration from the environment, then ./.env, then
// ~/.medcalc.env.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CLINICAL_SOURCE", SourceNone)
	v.SetDefault("FHIR_RETRY_MAX", 2)
	v.SetDefault("FETCH_TIMEOUT", "10s")
	v.SetDefault("FHIR_RATE_LIMIT_RPS", 20)
	v.SetDefault("FHIR_RATE_LIMIT_BURST", 40)
	v.SetDefault("BREAKER_MAX_FAILURES", 5)
	v.SetDefault("BREAKER_COOLDOWN", "30s")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("STALENESS_DAYS", 90)
	v.SetDefault("POPULATE_TIMEOUT", "30s")
	v.SetDefault("FORM_TTL", "30m")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("TRACE_SAMPLE_RATE", 0.1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Config files are optional; the first one found wins.
	for _, path := range configFiles() {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err == nil {
			break
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.ClinicalSource = strings.ToLower(strings.TrimSpace(cfg.ClinicalSource))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() && cfg.ClinicalSource == SourceNone {
		log.Println("WARNING: no CLINICAL_SOURCE configured; forms open in standalone mode.")
	}

	return cfg, nil
}

func configFiles() []string {
	files := []string{".env"}
	if home, err := homedir.Dir(); err == nil {
		files = append(files, filepath.Join(home, ".medcalc.env"))
	}
	return files
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StaleAfter is the age past which an observation is flagged as old.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StalenessDays) * 24 * time.Hour
}

// VerifiesLaunch reports whether launch token signatures can be checked.
func (c *Config) VerifiesLaunch() bool {
	return c.AuthJWKSURL != "" || c.AuthSigningKey != ""
}

// Validate checks that the selected clinical source is fully configured.
func (c *Config) Validate() error {
	switch c.ClinicalSource {
	case SourceNone:
	case SourceFHIR:
		if c.FHIRBaseURL == "" {
			return fmt.Errorf("FHIR_BASE_URL is required when CLINICAL_SOURCE is %q", SourceFHIR)
		}
	case SourceEHRDB:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CLINICAL_SOURCE is %q", SourceEHRDB)
		}
		// The database trusts medcalc, so launch tokens must be verified here.
		if !c.VerifiesLaunch() {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY is required when CLINICAL_SOURCE is %q", SourceEHRDB)
		}
	default:
		return fmt.Errorf("CLINICAL_SOURCE must be %q, %q, or %q, got %q", SourceNone, SourceFHIR, SourceEHRDB, c.ClinicalSource)
	}

	if c.StalenessDays <= 0 {
		return fmt.Errorf("STALENESS_DAYS must be positive, got %d", c.StalenessDays)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1], got %v", c.TraceSampleRate)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
