// Package stdout implements a Provider that prints messages to standard
// output. It exists for local development and tests; nothing is actually
// delivered.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/productdevbook/unemail/internal/email"
)

// Provider prints email messages to a writer in a human-readable format.
type Provider struct {
	writer io.Writer
}

// New creates a Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w, used for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Name returns "stdout".
func (p *Provider) Name() string { return "stdout" }

// Initialize always succeeds.
func (p *Provider) Initialize(_ context.Context) error { return nil }

// IsAvailable always reports true.
func (p *Provider) IsAvailable(_ context.Context) bool { return true }

// SendEmail prints the message and fabricates a successful result.
func (p *Provider) SendEmail(_ context.Context, opts *email.Options) (*email.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", opts.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(opts.To, ", "))
	if len(opts.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(opts.Cc, ", "))
	}
	if len(opts.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(opts.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", opts.Subject)
	b.WriteString("Body:\n")

	body := opts.Text
	if body == "" {
		body = opts.HTML
	}
	b.WriteString(body + "\n")

	if len(opts.Attachments) > 0 {
		names := make([]string, 0, len(opts.Attachments))
		for _, att := range opts.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, units.HumanSize(float64(len(att.Content)))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}

	b.WriteString("========================================\n")

	fmt.Fprint(p.writer, b.String())

	return &email.Result{
		MessageID: uuid.NewString(),
		SentAt:    time.Now().UTC(),
		Response:  "printed to stdout",
		Provider:  p.Name(),
	}, nil
}
