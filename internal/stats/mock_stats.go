package stats

import "github.com/stretchr/testify/mock"

type MockUpdater struct {
	mock.Mock
}

func (m *MockUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockUpdater) RegisterMetric(name string) {
	m.Called(name)
}
func (m *MockUpdater) Run() {
	m.Called()
}

// NoopProvider discards all updates. Used by tests that do not assert on
// metrics.
type NoopProvider struct{}

func (NoopProvider) Incr(string)           {}
func (NoopProvider) Decr(string)           {}
func (NoopProvider) RegisterMetric(string) {}
func (NoopProvider) Run()                  {}
