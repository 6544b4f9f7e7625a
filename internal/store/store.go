// ABOUTME: Store interface and data types for relay persistence
// ABOUTME: Defines Binding, PendingBinding and the durable sync cursor contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// PendingBindingTTL is how long an issued pairing token stays resolvable.
const PendingBindingTTL = 10 * time.Minute

// Binding maps an external platform user to the gateway that owns their
// conversation. Last write wins: a user re-pairing to a new gateway silently
// supersedes the old mapping.
type Binding struct {
	ExternalUserID string
	GatewayID      string
	CreatedAt      time.Time
}

// PendingBinding is a short-lived, single-use pairing token issued on a
// gateway's pairing request and consumed when a user presents it.
type PendingBinding struct {
	Token     string
	GatewayID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store defines the durable state contract of the relay: user bindings,
// pending pairing tokens and the sync checkpoint. All operations are safe to
// call concurrently from multiple in-flight webhook handlers; each individual
// operation is independently atomic and idempotent.
type Store interface {
	// Bindings
	Bind(ctx context.Context, externalUserID, gatewayID string) error
	Lookup(ctx context.Context, externalUserID string) (string, error)
	Unbind(ctx context.Context, externalUserID string) error
	ListByGateway(ctx context.Context, gatewayID string) ([]string, error)
	UnbindByGateway(ctx context.Context, gatewayID string) (int, error)

	// Pending bindings (pairing tokens)
	CreatePendingBinding(ctx context.Context, token, gatewayID string) (*PendingBinding, error)
	ResolvePendingBinding(ctx context.Context, token string) (string, error)
	DeleteExpiredPendingBindings(ctx context.Context) (int, error)

	// Sync checkpoint
	GetSyncCursor(ctx context.Context) (string, error)
	SetSyncCursor(ctx context.Context, cursor string) error

	// Close releases any resources held by the store.
	Close() error
}
