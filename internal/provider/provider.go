// Package provider defines the capability contract shared by every email
// delivery backend, from the in-process SMTP engine to thin REST
// adapters. The facade selects one variant statically; callers never
// care which backend executes.
package provider

import (
	"context"

	"github.com/productdevbook/unemail/internal/email"
)

// Provider is the uniform contract implemented by all backends.
type Provider interface {
	// Name returns the backend's short name (e.g. "smtp", "ses").
	Name() string

	// Initialize verifies the backend is usable: for SMTP it reaches the
	// server and checks the 220 greeting, for API backends it checks the
	// configuration. Safe to call more than once.
	Initialize(ctx context.Context) error

	// IsAvailable reports whether the backend can currently accept
	// sends.
	IsAvailable(ctx context.Context) bool

	// SendEmail delivers one message and returns the generated result,
	// or a tagged *email.Error describing the failure.
	SendEmail(ctx context.Context, opts *email.Options) (*email.Result, error)
}

// CredentialValidator is the optional capability of backends that can
// verify their credentials without sending mail.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context) error
}

// Mailbox is the optional capability of backends that archive sent
// messages for later retrieval by id.
type Mailbox interface {
	GetEmail(ctx context.Context, id string) (*email.Options, error)
}
