package calculator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/platform/metrics"
)

var ErrFormNotFound = errors.New("form not found")

// FormStore holds live form instances.
type FormStore interface {
	Put(f *form.Form, patientID, tenantID string) *Instance
	Get(id string) (*Instance, error)
	Delete(id string) (*Instance, error)
	Len() int
}

// MemoryStore is an in-process scratch store with idle eviction. Evicted
// forms are detached so late population writes are dropped.
type MemoryStore struct {
	mu      sync.Mutex
	forms   map[string]*Instance
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Collector
}

const DefaultFormTTL = 30 * time.Minute

func NewMemoryStore(ttl time.Duration, logger zerolog.Logger, m *metrics.Collector) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultFormTTL
	}
	return &MemoryStore{
		forms:   make(map[string]*Instance),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

func (s *MemoryStore) Put(f *form.Form, patientID, tenantID string) *Instance {
	now := s.now()
	inst := &Instance{
		ID:        uuid.NewString(),
		Form:      f,
		PatientID: patientID,
		TenantID:  tenantID,
		CreatedAt: now,
		LastUsed:  now,
	}
	s.mu.Lock()
	s.forms[inst.ID] = inst
	n := len(s.forms)
	s.mu.Unlock()
	s.metrics.SetForms(n)
	return inst
}

func (s *MemoryStore) Get(id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.forms[id]
	if !ok {
		return nil, ErrFormNotFound
	}
	inst.LastUsed = s.now()
	return inst, nil
}

func (s *MemoryStore) Delete(id string) (*Instance, error) {
	s.mu.Lock()
	inst, ok := s.forms[id]
	delete(s.forms, id)
	n := len(s.forms)
	s.mu.Unlock()
	if !ok {
		return nil, ErrFormNotFound
	}
	inst.Form.Detach()
	s.metrics.SetForms(n)
	return inst, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms)
}

// Sweep detaches and removes forms idle longer than the TTL.
func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	var expired []*Instance

	s.mu.Lock()
	for id, inst := range s.forms {
		if inst.LastUsed.Before(cutoff) {
			expired = append(expired, inst)
			delete(s.forms, id)
		}
	}
	n := len(s.forms)
	s.mu.Unlock()

	for _, inst := range expired {
		inst.Form.Detach()
		s.logger.Debug().Str("form_id", inst.ID).Msg("form evicted")
	}
	if len(expired) > 0 {
		s.metrics.SetForms(n)
	}
	return len(expired)
}

// Run sweeps on a ticker until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = s.ttl / 2
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}
