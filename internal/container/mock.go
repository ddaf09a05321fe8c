package container

import (
	"context"

	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/identity"
	"github.com/sodav/monitor-core/internal/ingest"
	"github.com/sodav/monitor-core/internal/localmatch"
	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/notify"
	"github.com/sodav/monitor-core/internal/recognize"
	"github.com/sodav/monitor-core/internal/stats"
	"github.com/sodav/monitor-core/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockContainer is a container designed for testing. It allows easy
// overriding of dependencies with test doubles (mocks, stubs, fakes).
type MockContainer struct {
	*Container
	overrides map[string]interface{}
}

// NewMock creates a new, empty mock container; register doubles with
// the WithMock* setters or Override.
func NewMock() *MockContainer {
	return &MockContainer{
		Container: New(),
		overrides: make(map[string]interface{}),
	}
}

func (m *MockContainer) WithMockDB(db *gorm.DB) *MockContainer {
	m.SetDB(db)
	return m
}

func (m *MockContainer) WithMockLogger(l *zap.Logger) *MockContainer {
	m.SetLogger(l)
	return m
}

func (m *MockContainer) WithMockConfig(cfg *config.DetectionConfig) *MockContainer {
	m.SetConfig(cfg)
	return m
}

func (m *MockContainer) WithMockFetcher(f *ingest.Fetcher) *MockContainer {
	m.SetFetcher(f)
	return m
}

func (m *MockContainer) WithMockMatcher(matcher *localmatch.Matcher) *MockContainer {
	m.SetMatcher(matcher)
	return m
}

func (m *MockContainer) WithMockRecognizer(r *recognize.Recognizer) *MockContainer {
	m.SetRecognizer(r)
	return m
}

func (m *MockContainer) WithMockResolver(r *identity.Resolver) *MockContainer {
	m.SetResolver(r)
	return m
}

func (m *MockContainer) WithMockStatsAggregator(a *stats.Aggregator) *MockContainer {
	m.SetStatsAggregator(a)
	return m
}

func (m *MockContainer) WithMockNotifySink(s *notify.Sink) *MockContainer {
	m.SetNotifySink(s)
	return m
}

func (m *MockContainer) WithMockSnapshotArchiver(a *storage.SnapshotArchiver) *MockContainer {
	m.SetSnapshotArchiver(a)
	return m
}

// Override sets a custom override for a specific dependency key, for
// tests that need a double the typed setters above don't cover.
func (m *MockContainer) Override(key string, value interface{}) *MockContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[key] = value
	return m
}

// GetOverride retrieves an override if set.
func (m *MockContainer) GetOverride(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.overrides[key]
	return val, ok
}

// MinimalMock creates a mock container with only the absolute minimum
// dependencies, for isolated unit tests of collaborators that only need
// a logger.
func MinimalMock() *MockContainer {
	mock := NewMock()
	mock.SetLogger(logger.Log)
	return mock
}

// Clean cleans up test containers after tests complete.
func (m *MockContainer) Clean(ctx context.Context) error {
	return m.Cleanup(ctx)
}
