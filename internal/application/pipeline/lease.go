package pipeline

import (
	"sync"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
)

// LeaseManager grants at most one in-flight long-running step per analysis
// id. A second acquirer fails fast with ErrAlreadyRunning; it never queues.
type LeaseManager struct {
	mu   sync.Mutex
	held map[domain.AnalysisID]bool
}

func NewLeaseManager() *LeaseManager {
	return &LeaseManager{held: make(map[domain.AnalysisID]bool)}
}

// Acquire takes the lease for id. The returned release func is idempotent and
// must be called on every exit path, including timeout and cancellation.
func (m *LeaseManager) Acquire(id domain.AnalysisID) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[id] {
		return nil, domain.Errorf(domain.ErrAlreadyRunning, "analysis %s", id)
	}
	m.held[id] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, id)
			m.mu.Unlock()
		})
	}, nil
}

// Held reports whether a lease is currently held for id.
func (m *LeaseManager) Held(id domain.AnalysisID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[id]
}
