package token

import (
	"context"
	"sync"
)

// Store is the abstraction over token state backends.
type Store interface {
	// SetCurrent installs tok as the session's only valid code, replacing
	// any prior one.
	SetCurrent(ctx context.Context, tok Token) error
	// Lookup resolves a code value to its token, if known.
	Lookup(ctx context.Context, value string) (Token, bool, error)
	// Current returns the session's live code, if any.
	Current(ctx context.Context, sessionID string) (Token, bool, error)
	// Redeem atomically records a student's redemption for the session.
	// Returns false when the student already redeemed.
	Redeem(ctx context.Context, sessionID, studentID string) (bool, error)
	// Redeemed reports whether the student already redeemed for the session.
	Redeemed(ctx context.Context, sessionID, studentID string) (bool, error)
	// Invalidate forgets the session's code and redemptions.
	Invalidate(ctx context.Context, sessionID string) error
}

// Memory is a mutex-guarded in-process store for dev and tests.
type Memory struct {
	mu        sync.Mutex
	byValue   map[string]Token
	bySession map[string]string
	redeemed  map[string]map[string]bool
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		byValue:   make(map[string]Token),
		bySession: make(map[string]string),
		redeemed:  make(map[string]map[string]bool),
	}
}

func (m *Memory) SetCurrent(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.bySession[tok.SessionID]; ok {
		delete(m.byValue, prev)
	}
	m.byValue[tok.Value] = tok
	m.bySession[tok.SessionID] = tok.Value
	return nil
}

func (m *Memory) Lookup(_ context.Context, value string) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.byValue[value]
	return tok, ok, nil
}

func (m *Memory) Current(_ context.Context, sessionID string) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.bySession[sessionID]
	if !ok {
		return Token{}, false, nil
	}
	tok, ok := m.byValue[value]
	return tok, ok, nil
}

func (m *Memory) Redeem(_ context.Context, sessionID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.redeemed[sessionID]
	if !ok {
		set = make(map[string]bool)
		m.redeemed[sessionID] = set
	}
	if set[studentID] {
		return false, nil
	}
	set[studentID] = true
	return true, nil
}

func (m *Memory) Redeemed(_ context.Context, sessionID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redeemed[sessionID][studentID], nil
}

func (m *Memory) Invalidate(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value, ok := m.bySession[sessionID]; ok {
		delete(m.byValue, value)
		delete(m.bySession, sessionID)
	}
	delete(m.redeemed, sessionID)
	return nil
}
