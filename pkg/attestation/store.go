package attestation

import (
	"context"
	"sync"

	"github.com/commitlabs/core/pkg/safemath"
)

// Store persists attestations, the per-commitment fee accumulator and the
// health-metrics snapshot.
type Store interface {
	Append(ctx context.Context, att Attestation) error
	List(ctx context.Context, commitmentID uint64) ([]Attestation, error)

	// AddFees adds amount to the accumulator and returns the new total.
	AddFees(ctx context.Context, commitmentID uint64, amount safemath.Int) (safemath.Int, error)
	Fees(ctx context.Context, commitmentID uint64) (safemath.Int, error)

	PutMetrics(ctx context.Context, m HealthMetrics) error
	// Metrics returns the stored snapshot; ok is false when none exists.
	Metrics(ctx context.Context, commitmentID uint64) (m HealthMetrics, ok bool, err error)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	atts    map[uint64][]Attestation
	fees    map[uint64]safemath.Int
	metrics map[uint64]HealthMetrics
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		atts:    make(map[uint64][]Attestation),
		fees:    make(map[uint64]safemath.Int),
		metrics: make(map[uint64]HealthMetrics),
	}
}

func (s *MemoryStore) Append(_ context.Context, att Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atts[att.CommitmentID] = append(s.atts[att.CommitmentID], att)
	return nil
}

func (s *MemoryStore) List(_ context.Context, commitmentID uint64) ([]Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Attestation, len(s.atts[commitmentID]))
	copy(out, s.atts[commitmentID])
	return out, nil
}

func (s *MemoryStore) AddFees(_ context.Context, commitmentID uint64, amount safemath.Int) (safemath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, err := s.fees[commitmentID].Add(amount)
	if err != nil {
		return safemath.Int{}, err
	}
	s.fees[commitmentID] = total
	return total, nil
}

func (s *MemoryStore) Fees(_ context.Context, commitmentID uint64) (safemath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees[commitmentID], nil
}

func (s *MemoryStore) PutMetrics(_ context.Context, m HealthMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.CommitmentID] = m
	return nil
}

func (s *MemoryStore) Metrics(_ context.Context, commitmentID uint64) (HealthMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[commitmentID]
	return m, ok, nil
}
