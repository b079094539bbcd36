package stats

import "github.com/stretchr/testify/mock"

type MockStats struct {
	mock.Mock
}

func (m *MockStats) RegisterMetric(name, help string) {
	m.Called(name, help)
}
func (m *MockStats) Incr(name string) {
	m.Called(name)
}
func (m *MockStats) Decr(name string) {
	m.Called(name)
}

// NoopStats satisfies StatsProvider for tests that don't assert on metrics.
type NoopStats struct{}

func (NoopStats) RegisterMetric(name, help string) {}
func (NoopStats) Incr(name string)                 {}
func (NoopStats) Decr(name string)                 {}
