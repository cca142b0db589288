// Package storage defines the invocation log the gateway keeps for every
// request that went through the handler chain.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an invocation does not exist.
var ErrNotFound = errors.New("invocation not found")

// Invocation summarizes one processed request. ID is assigned by the gateway;
// RequestID is the caller-visible request id and need not be unique.
type Invocation struct {
	ID        string        `json:"id" db:"id"`
	RequestID string        `json:"request_id,omitempty" db:"request_id"`
	Service   string        `json:"service" db:"service"`
	Operation string        `json:"operation" db:"operation"`
	Account   string        `json:"account,omitempty" db:"account"`
	Region    string        `json:"region,omitempty" db:"region"`
	Method    string        `json:"method" db:"method"`
	Path      string        `json:"path" db:"path"`
	Status    int           `json:"status" db:"status"`
	ErrorType string        `json:"error_type,omitempty" db:"error_type"`
	Duration  time.Duration `json:"duration_ns" db:"duration_ns"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// ListOptions filters and bounds List.
type ListOptions struct {
	Limit     int
	Service   string
	RequestID string
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 100

// Store persists invocations.
type Store interface {
	// Record stores an invocation.
	Record(ctx context.Context, inv *Invocation) error

	// Get retrieves an invocation by request ID.
	Get(ctx context.Context, id string) (*Invocation, error)

	// List returns invocations, newest first.
	List(ctx context.Context, opts ListOptions) ([]*Invocation, error)

	// Close releases the store.
	Close() error
}
