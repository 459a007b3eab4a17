package client

import (
	"sync"
	"time"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config  map[string]string
	history map[string]*ServerRecord
	dir     string

	// Error injection
	getConfigErr    error
	setConfigErr    error
	recordServerErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:  make(map[string]string),
		history: make(map[string]*ServerRecord),
		dir:     "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}

	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}

	s.config[key] = value
	return nil
}

// GetCurrentServer returns the remembered server
func (s *MockState) GetCurrentServer() string {
	server, _ := s.GetConfig(currentServerKey)
	return server
}

// SetCurrentServer remembers the server that answered
func (s *MockState) SetCurrentServer(server string) error {
	return s.SetConfig(currentServerKey, server)
}

// RecordServerResult counts a success or failure against server
func (s *MockState) RecordServerResult(server string, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recordServerErr != nil {
		return s.recordServerErr
	}

	r, exists := s.history[server]
	if !exists {
		r = &ServerRecord{Server: server}
		s.history[server] = r
	}
	if ok {
		r.Successes++
		r.LastSuccessAt = time.Now()
	} else {
		r.Failures++
		r.LastFailureAt = time.Now()
	}
	return nil
}

// ServerHistory returns a copy of every record, in no particular order
func (s *MockState) ServerHistory() ([]ServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]ServerRecord, 0, len(s.history))
	for _, r := range s.history {
		records = append(records, *r)
	}
	return records, nil
}

// GetStateDir returns the directory where state is stored
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close closes the mock state (no-op for in-memory)
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetRecordServerError sets an error to return from RecordServerResult()
func (s *MockState) SetRecordServerError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordServerErr = err
}

// Record returns the history for one server (for testing)
func (s *MockState) Record(server string) (ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.history[server]
	if !ok {
		return ServerRecord{}, false
	}
	return *r, true
}

// Verify that MockState implements StateInterface
var _ StateInterface = (*MockState)(nil)
