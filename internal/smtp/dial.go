package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/productdevbook/unemail/internal/email"
)

// defaultTimeout applies when the configuration leaves the timeout unset.
// It covers connect and every subsequent read/write individually.
const defaultTimeout = 30 * time.Second

// DialConfig describes how to reach the server.
type DialConfig struct {
	Host string
	Port int

	// Secure wraps the socket in TLS before any SMTP traffic (implicit
	// TLS, typically port 465). Independent of STARTTLS.
	Secure bool

	// TLSConfig is used for both implicit TLS and STARTTLS. When nil a
	// config with ServerName set to Host is used.
	TLSConfig *tls.Config

	// Timeout applies to connect and to each read/write on the
	// connection, the first read (the greeting) included.
	Timeout time.Duration
}

func (d DialConfig) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultTimeout
}

func (d DialConfig) tlsConfig() *tls.Config {
	if d.TLSConfig != nil {
		return d.TLSConfig
	}
	return &tls.Config{ServerName: d.Host, MinVersion: tls.VersionTLS12}
}

// Dial opens a plain or TLS-wrapped socket to host:port. Refused
// connections, DNS failures and timeouts all surface as connection errors
// with a distinguishing reason. The greeting is not consumed here; the
// caller reads it through the returned Conn.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.timeout()}

	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	if cfg.Secure {
		tc := tls.Client(nc, cfg.tlsConfig())
		hsCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
		defer cancel()
		if err := tc.HandshakeContext(hsCtx); err != nil {
			nc.Close()
			return nil, &email.Error{
				Kind:      email.KindConnection,
				Component: "smtp",
				Message:   "tls handshake with " + addr + " failed",
				Reason:    timeoutReason(err),
				Cause:     err,
			}
		}
		nc = tc
	}

	return newConn(nc, cfg.timeout()), nil
}

// classifyDialError maps a dial failure onto the error taxonomy.
func classifyDialError(addr string, err error) error {
	reason := email.ReasonNone
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		reason = email.ReasonDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		reason = email.ReasonRefused
	default:
		reason = timeoutReason(err)
	}
	return &email.Error{
		Kind:      email.KindConnection,
		Component: "smtp",
		Message:   "connecting to " + addr + " failed",
		Reason:    reason,
		Cause:     err,
	}
}

func timeoutReason(err error) email.Reason {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return email.ReasonTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return email.ReasonTimeout
	}
	return email.ReasonNone
}
