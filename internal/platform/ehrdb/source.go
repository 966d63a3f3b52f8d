package ehrdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/pkg/fhircodes"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Beginner starts transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Source serves one patient's record from a tenant schema. It implements
// clinicaldata.Source.
type Source struct {
	patientID string
	run       func(ctx context.Context, fn func(q queryable) error) error
}

var _ clinicaldata.Source = (*Source)(nil)

// NewSource scopes reads to tenantID's schema and to patientID, which may
// be the patient's FHIR id or row id.
func NewSource(db Beginner, tenantID, patientID string) (*Source, error) {
	schema, err := SchemaFor(tenantID)
	if err != nil {
		return nil, err
	}
	if patientID == "" {
		return nil, errors.New("patient id is required")
	}
	return &Source{
		patientID: patientID,
		run: func(ctx context.Context, fn func(q queryable) error) error {
			tx, err := db.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin: %w", err)
			}
			defer tx.Rollback(ctx)
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, shared, public", schema)); err != nil {
				return fmt.Errorf("tenant resolution failed: %w", err)
			}
			return fn(tx)
		},
	}, nil
}

func (s *Source) Subject(ctx context.Context) (*clinicaldata.Subject, error) {
	var (
		subj      clinicaldata.Subject
		first     string
		last      string
		birthDate *time.Time
		gender    *string
	)
	err := s.run(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			SELECT fhir_id, first_name, last_name, birth_date, gender
			FROM patient WHERE fhir_id = $1 OR id::text = $1
			LIMIT 1`, s.patientID).Scan(&subj.ID, &first, &last, &birthDate, &gender)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query patient: %w", err)
	}
	subj.Name = joinName(first, last)
	if birthDate != nil {
		subj.BirthDate = *birthDate
	}
	if gender != nil {
		subj.Gender = *gender
	}
	return &subj, nil
}

const latestObservationSQL = `
	SELECT o.value_quantity, o.value_unit, o.effective_datetime
	FROM observation o
	JOIN patient p ON p.id = o.patient_id
	WHERE (p.fhir_id = $1 OR p.id::text = $1)
		AND o.code_value = $2
		AND o.status IN ('final', 'amended', 'corrected')
		AND o.value_quantity IS NOT NULL
	ORDER BY o.effective_datetime DESC NULLS LAST
	LIMIT 1`

const latestComponentSQL = `
	SELECT c.value_quantity, c.value_unit, o.effective_datetime
	FROM observation_component c
	JOIN observation o ON o.id = c.observation_id
	JOIN patient p ON p.id = o.patient_id
	WHERE (p.fhir_id = $1 OR p.id::text = $1)
		AND o.code_value = ANY($2)
		AND c.code_value = $3
		AND o.status IN ('final', 'amended', 'corrected')
		AND c.value_quantity IS NOT NULL
	ORDER BY o.effective_datetime DESC NULLS LAST
	LIMIT 1`

// LatestObservation returns the newest final numeric observation for code.
// Blood-pressure components fall back to the panel observations that carry
// them.
func (s *Source) LatestObservation(ctx context.Context, code string) (*clinicaldata.Snapshot, error) {
	var snap *clinicaldata.Snapshot
	err := s.run(ctx, func(q queryable) error {
		var err error
		snap, err = scanSnapshot(q.QueryRow(ctx, latestObservationSQL, s.patientID, code))
		if err != nil || snap != nil {
			return err
		}
		if panels, ok := fhircodes.BPComponents[code]; ok {
			snap, err = scanSnapshot(q.QueryRow(ctx, latestComponentSQL, s.patientID, panels, code))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query observation %s: %w", code, err)
	}
	if snap != nil {
		snap.Code = code
	}
	return snap, nil
}

func scanSnapshot(row pgx.Row) (*clinicaldata.Snapshot, error) {
	var (
		value *float64
		unit  *string
		at    *time.Time
	)
	if err := row.Scan(&value, &unit, &at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	snap := &clinicaldata.Snapshot{Value: *value}
	if unit != nil {
		snap.Unit = *unit
	}
	if at != nil {
		snap.Timestamp = *at
	}
	return snap, nil
}

// Conditions returns the patient's active conditions coded with any of codes.
func (s *Source) Conditions(ctx context.Context, codes []string) ([]clinicaldata.Condition, error) {
	var out []clinicaldata.Condition
	err := s.run(ctx, func(q queryable) error {
		rows, err := q.Query(ctx, `
			SELECT c.code_value, c.code_system, c.code_display, c.clinical_status, c.onset_datetime
			FROM condition c
			JOIN patient p ON p.id = c.patient_id
			WHERE (p.fhir_id = $1 OR p.id::text = $1)
				AND c.code_value = ANY($2)
				AND c.clinical_status = $3
			ORDER BY c.onset_datetime DESC NULLS LAST`, s.patientID, codes, fhircodes.ConditionActive)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				c       clinicaldata.Condition
				system  *string
				display *string
				onset   *time.Time
			)
			if err := rows.Scan(&c.Code, &system, &display, &c.ClinicalStatus, &onset); err != nil {
				return err
			}
			if system != nil {
				c.System = *system
			}
			if display != nil {
				c.Display = *display
			}
			if onset != nil {
				c.Onset = *onset
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	return out, nil
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
