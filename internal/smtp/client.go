package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/productdevbook/unemail/internal/email"
)

// Config describes the SMTP endpoint and how to talk to it.
type Config struct {
	Host string
	Port int

	// Secure selects implicit TLS (the whole session is wrapped before
	// the greeting). StartTLS upgrades a plain connection after EHLO
	// instead; setting both is allowed, Secure wins.
	Secure   bool
	StartTLS bool

	TLSConfig *tls.Config

	// Timeout covers connect and each protocol read/write.
	Timeout time.Duration

	// LocalName is the hostname announced in EHLO. Defaults to
	// "localhost".
	LocalName string

	// Credentials, when non-nil, trigger authentication after EHLO.
	Credentials *Credentials

	// MaxMessageSize rejects serialized messages larger than this many
	// bytes before the DATA payload is written. Zero means no limit.
	MaxMessageSize int64

	// Recorder, when non-nil, archives the serialized form of every
	// accepted message under its generated id.
	Recorder Recorder
}

// Recorder archives sent messages. Archive failures never fail the send.
type Recorder interface {
	Put(id string, raw []byte) error
}

func (c Config) localName() string {
	if c.LocalName != "" {
		return c.LocalName
	}
	return "localhost"
}

// Client sends messages over SMTP, one strictly sequential conversation
// per connection. The zero retry policy is deliberate: every failure is
// reported to the caller, which owns the retry decision.
type Client struct {
	cfg Config
}

// NewClient creates a Client for the given endpoint.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Send runs one complete transaction on a fresh connection:
// connect, greet, EHLO, optional STARTTLS, optional AUTH, envelope, DATA,
// QUIT. The connection is torn down on every exit path.
func (c *Client) Send(ctx context.Context, opts *email.Options) (*email.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sess, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	res, err := sess.transact(opts)
	if err != nil {
		return nil, err
	}

	sess.quit()
	return res, nil
}

// Ping connects, consumes the greeting, sends EHLO and QUITs. Used by the
// provider's availability check.
func (c *Client) Ping(ctx context.Context) error {
	sess, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.close()
	sess.quit()
	return nil
}

// session is a connection that has been greeted, identified and, when
// credentials were supplied, authenticated. It is owned by exactly one
// transaction at a time.
type session struct {
	conn   *Conn
	client *Client
}

// connect dials and brings the connection to the ready state. On any
// failure the socket is already closed when connect returns.
func (c *Client) connect(ctx context.Context) (*session, error) {
	conn, err := Dial(ctx, DialConfig{
		Host:      c.cfg.Host,
		Port:      c.cfg.Port,
		Secure:    c.cfg.Secure,
		TLSConfig: c.cfg.TLSConfig,
		Timeout:   c.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	sess := &session{conn: conn, client: c}
	if err := sess.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// handshake consumes the greeting and runs EHLO, STARTTLS and AUTH.
func (s *session) handshake(ctx context.Context) error {
	cfg := s.client.cfg

	// The greeting is the reply to the implicit connect.
	if _, err := s.conn.Expect(CodeReady); err != nil {
		return err
	}

	if _, err := s.conn.Cmd("EHLO "+cfg.localName(), CodeOK); err != nil {
		return err
	}

	if cfg.StartTLS && !cfg.Secure {
		if _, err := s.conn.Cmd("STARTTLS", CodeReady); err != nil {
			return err
		}
		tc := tls.Client(s.conn.nc, DialConfig{Host: cfg.Host, TLSConfig: cfg.TLSConfig}.tlsConfig())
		hsCtx, cancel := context.WithTimeout(ctx, s.conn.timeout)
		err := tc.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			return &email.Error{
				Kind:      email.KindConnection,
				Component: "smtp",
				Message:   "starttls handshake failed",
				Reason:    timeoutReason(err),
				Cause:     err,
			}
		}
		s.conn.upgrade(tc)

		// The server forgets everything it learned pre-TLS.
		if _, err := s.conn.Cmd("EHLO "+cfg.localName(), CodeOK); err != nil {
			return err
		}
	}

	if cfg.Credentials != nil {
		mech, err := mechanismFor(*cfg.Credentials)
		if err != nil {
			return err
		}
		if err := negotiate(s.conn, mech); err != nil {
			return err
		}
	}

	return nil
}

// transact runs the envelope and data phases for one message on a ready
// session. The session stays usable for another transaction on success.
func (s *session) transact(opts *email.Options) (*email.Result, error) {
	if _, err := s.conn.Cmd(fmt.Sprintf("MAIL FROM:<%s>", opts.From), CodeOK); err != nil {
		return nil, err
	}

	// To, then Cc, then Bcc. One rejected recipient aborts the whole
	// transaction.
	for _, rcpt := range opts.Recipients() {
		if _, err := s.conn.Cmd(fmt.Sprintf("RCPT TO:<%s>", rcpt), CodeOK); err != nil {
			return nil, err
		}
	}

	payload, err := email.Serialize(opts)
	if err != nil {
		return nil, err
	}
	if max := s.client.cfg.MaxMessageSize; max > 0 && int64(len(payload)) > max {
		return nil, &email.Error{
			Kind:      email.KindValidation,
			Component: "smtp",
			Message:   fmt.Sprintf("serialized message is %d bytes, limit is %d", len(payload), max),
		}
	}

	if _, err := s.conn.Cmd("DATA", CodeStartMailData); err != nil {
		return nil, err
	}

	reply, err := s.conn.WriteData(payload)
	if err != nil {
		return nil, err
	}

	// SMTP returns no message id; generate one locally.
	res := &email.Result{
		MessageID: uuid.NewString(),
		SentAt:    time.Now().UTC(),
		Response:  reply.Text(),
		Provider:  "smtp",
	}

	log.Debug().
		Str("messageId", res.MessageID).
		Int("recipients", len(opts.To)+len(opts.Cc)+len(opts.Bcc)).
		Msg("message accepted by server")

	if rec := s.client.cfg.Recorder; rec != nil {
		if err := rec.Put(res.MessageID, payload); err != nil {
			log.Warn().Err(err).Str("messageId", res.MessageID).Msg("archiving sent message failed")
		}
	}

	return res, nil
}

// quit ends the session politely. Errors are ignored: the message has
// already been accepted or the failure already reported, and close always
// follows.
func (s *session) quit() {
	s.conn.Cmd("QUIT", CodeClosing)
}

// close releases the socket. Safe to call after quit.
func (s *session) close() {
	s.conn.Close()
}
