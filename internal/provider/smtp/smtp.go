// Package smtp adapts the SMTP protocol engine to the Provider contract.
package smtp

import (
	"context"

	"github.com/productdevbook/unemail/internal/email"
	engine "github.com/productdevbook/unemail/internal/smtp"
	"github.com/productdevbook/unemail/internal/store"
)

// Config wires the engine, optional pooling and optional archival
// together.
type Config struct {
	// Engine is the protocol-level configuration (endpoint, TLS,
	// timeout, credentials).
	Engine engine.Config

	// MaxConnections enables connection pooling when greater than zero:
	// at most that many connections exist concurrently and additional
	// sends queue for a free one.
	MaxConnections int

	// Store, when non-nil, archives sent messages and enables the
	// Mailbox capability.
	Store *store.Store
}

// Provider sends email through the in-process SMTP engine.
type Provider struct {
	client *engine.Client
	pool   *engine.Pool
	store  *store.Store
}

// New creates the SMTP provider. All state is explicit here; nothing is
// captured lazily on first send.
func New(cfg Config) *Provider {
	if cfg.Store != nil {
		cfg.Engine.Recorder = cfg.Store
	}
	client := engine.NewClient(cfg.Engine)

	p := &Provider{client: client, store: cfg.Store}
	if cfg.MaxConnections > 0 {
		p.pool = engine.NewPool(client, cfg.MaxConnections)
	}
	return p
}

// Name returns "smtp".
func (p *Provider) Name() string { return "smtp" }

// Initialize reaches the server and verifies the 220 greeting and EHLO
// exchange, authentication included when credentials are configured.
func (p *Provider) Initialize(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// IsAvailable reports whether a greeting/EHLO round trip currently
// succeeds.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.client.Ping(ctx) == nil
}

// ValidateCredentials runs the full handshake including AUTH and
// disconnects without sending mail.
func (p *Provider) ValidateCredentials(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// SendEmail delivers one message, through the pool when configured.
func (p *Provider) SendEmail(ctx context.Context, opts *email.Options) (*email.Result, error) {
	if p.pool != nil {
		return p.pool.Send(ctx, opts)
	}
	return p.client.Send(ctx, opts)
}

// GetEmail retrieves a previously sent message from the archive. Only
// available when a store is configured.
func (p *Provider) GetEmail(_ context.Context, id string) (*email.Options, error) {
	if p.store == nil {
		return nil, &email.Error{
			Kind:      email.KindProvider,
			Component: "smtp",
			Message:   "no message store configured",
		}
	}
	return p.store.Get(id)
}

// Close releases pooled connections.
func (p *Provider) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
