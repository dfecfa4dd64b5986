package credstore

import (
	"context"
	"sync"

	"lexion/cmd/internal/auth/session"
)

// Memory keeps the credential in process memory. It does not survive restarts.
type Memory struct {
	mu    sync.Mutex
	value string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value == "" {
		return "", session.ErrNoCredential
	}
	return m.value, nil
}

func (m *Memory) Save(_ context.Context, credential string) error {
	m.mu.Lock()
	m.value = credential
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context) error {
	m.mu.Lock()
	m.value = ""
	m.mu.Unlock()
	return nil
}
