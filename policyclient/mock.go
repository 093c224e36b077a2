package policyclient

import (
	"sync"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockPolicyClient is a test double for interfaces.PolicyClient. Registered,
// Register and LastError are testify-mocked; observer bookkeeping is real so
// tests can drive callbacks through the attached observers with the Notify
// helpers.
type MockPolicyClient struct {
	mock.Mock

	mu        sync.Mutex
	observers []interfaces.PolicyClientObserver
}

func (m *MockPolicyClient) Registered() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockPolicyClient) Register(registrationType interfaces.RegistrationType, token interfaces.AccessToken) {
	m.Called(registrationType, token)
}

func (m *MockPolicyClient) LastError() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockPolicyClient) AddObserver(observer interfaces.PolicyClientObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.observers {
		if o == observer {
			return
		}
	}
	m.observers = append(m.observers, observer)
}

func (m *MockPolicyClient) RemoveObserver(observer interfaces.PolicyClientObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.observers {
		if o == observer {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

// HasObserver reports whether the observer is currently attached.
func (m *MockPolicyClient) HasObserver(observer interfaces.PolicyClientObserver) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.observers {
		if o == observer {
			return true
		}
	}
	return false
}

// ObserverCount returns the number of attached observers.
func (m *MockPolicyClient) ObserverCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

// NotifyRegistrationStateChanged delivers OnRegistrationStateChanged to every
// attached observer.
func (m *MockPolicyClient) NotifyRegistrationStateChanged() {
	for _, o := range m.snapshot() {
		o.OnRegistrationStateChanged(m)
	}
}

// NotifyClientError delivers OnClientError to every attached observer.
func (m *MockPolicyClient) NotifyClientError() {
	for _, o := range m.snapshot() {
		o.OnClientError(m)
	}
}

// NotifyPolicyFetched delivers OnPolicyFetched to every attached observer.
func (m *MockPolicyClient) NotifyPolicyFetched() {
	for _, o := range m.snapshot() {
		o.OnPolicyFetched(m)
	}
}

func (m *MockPolicyClient) snapshot() []interfaces.PolicyClientObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	observers := make([]interfaces.PolicyClientObserver, len(m.observers))
	copy(observers, m.observers)
	return observers
}
