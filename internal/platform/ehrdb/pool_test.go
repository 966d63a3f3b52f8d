package ehrdb

import "testing"

func TestPoolConfig_ReadOnlySessions(t *testing.T) {
	cfg, err := poolConfig("postgres://medcalc@localhost:5432/ehr?sslmode=disable", 8, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns != 8 || cfg.MinConns != 2 {
		t.Errorf("expected 8/2 connections, got %d/%d", cfg.MaxConns, cfg.MinConns)
	}
	params := cfg.ConnConfig.RuntimeParams
	if params["default_transaction_read_only"] != "on" {
		t.Errorf("expected read-only sessions, got %q", params["default_transaction_read_only"])
	}
	if params["application_name"] != "medcalc" {
		t.Errorf("expected application_name medcalc, got %q", params["application_name"])
	}
}

func TestPoolConfig_Invalid(t *testing.T) {
	if _, err := poolConfig("://not a url", 4, 1); err == nil {
		t.Error("expected an error for a malformed url")
	}
	if _, err := poolConfig("postgres://localhost/ehr", 2, 4); err == nil {
		t.Error("expected an error when min connections exceed max")
	}
}
