// Package token mints and validates the short-lived check-in codes a
// teacher broadcasts to the room. One code is live per session at a time;
// reissuing replaces it, and every student may redeem the live code once.
package token

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of validating a presented code.
type Status string

const (
	StatusOK          Status = "ok"
	StatusExpired     Status = "expired"
	StatusUnknown     Status = "unknown"
	StatusAlreadyUsed Status = "already_used"
)

// Token is a session-bound check-in code.
type Token struct {
	Value     string    `json:"token"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints codes against a Store backend.
type Issuer struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewIssuer creates an issuer with a fixed TTL per code.
func NewIssuer(store Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{store: store, ttl: ttl, now: time.Now}
}

// Issue mints a fresh code for the session, invalidating any prior code.
func (i *Issuer) Issue(ctx context.Context, sessionID string) (Token, error) {
	now := i.now().UTC()
	tok := Token{
		Value:     uuid.NewString(),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.SetCurrent(ctx, tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Validate checks a presented code for a given student. A superseded code
// reports unknown, matching a code that never existed: students are always
// told to rescan whatever is currently on screen.
func (i *Issuer) Validate(ctx context.Context, value, studentID string) (Status, Token, error) {
	tok, ok, err := i.store.Lookup(ctx, value)
	if err != nil {
		return "", Token{}, err
	}
	if !ok {
		return StatusUnknown, Token{}, nil
	}
	cur, ok, err := i.store.Current(ctx, tok.SessionID)
	if err != nil {
		return "", Token{}, err
	}
	if !ok || cur.Value != value {
		return StatusUnknown, Token{}, nil
	}
	if !i.now().Before(tok.ExpiresAt) {
		return StatusExpired, tok, nil
	}
	used, err := i.store.Redeemed(ctx, tok.SessionID, studentID)
	if err != nil {
		return "", Token{}, err
	}
	if used {
		return StatusAlreadyUsed, tok, nil
	}
	return StatusOK, tok, nil
}

// MarkRedeemed records that a student has spent their redemption for the
// session. Returns false if a concurrent attempt got there first.
func (i *Issuer) MarkRedeemed(ctx context.Context, sessionID, studentID string) (bool, error) {
	return i.store.Redeem(ctx, sessionID, studentID)
}

// Invalidate drops the session's current code. Called when the session
// reaches a terminal state.
func (i *Issuer) Invalidate(ctx context.Context, sessionID string) error {
	return i.store.Invalidate(ctx, sessionID)
}

// TTL reports the configured code lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
