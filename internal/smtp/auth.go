package smtp

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/productdevbook/unemail/internal/email"
)

// Credentials selects and parameterizes a SASL mechanism. Username and
// Password drive LOGIN, PLAIN and CRAM-MD5; AccessToken drives XOAUTH2.
type Credentials struct {
	Username    string
	Password    string
	AccessToken string

	// Mechanism is one of "LOGIN", "PLAIN", "CRAM-MD5", "XOAUTH2".
	// Defaults to LOGIN, or XOAUTH2 when only an access token is set.
	Mechanism string
}

// Mechanism is a client-side SASL mechanism.
type Mechanism interface {
	// Name returns the mechanism name as sent in the AUTH command.
	Name() string
	// Start returns the initial response to inline into the AUTH command,
	// or nil when the mechanism waits for a server challenge.
	Start() ([]byte, error)
	// Next answers a decoded 334 challenge.
	Next(challenge []byte) ([]byte, error)
}

// mechanismFor resolves the credentials into a concrete mechanism.
func mechanismFor(c Credentials) (Mechanism, error) {
	name := strings.ToUpper(c.Mechanism)
	if name == "" {
		if c.AccessToken != "" && c.Password == "" {
			name = "XOAUTH2"
		} else {
			name = "LOGIN"
		}
	}

	switch name {
	case "LOGIN":
		return &loginMechanism{username: c.Username, password: c.Password}, nil
	case "PLAIN":
		return &plainMechanism{username: c.Username, password: c.Password}, nil
	case "CRAM-MD5":
		return &cramMD5Mechanism{username: c.Username, secret: c.Password}, nil
	case "XOAUTH2", "OAUTH2":
		return &xoauth2Mechanism{username: c.Username, token: c.AccessToken}, nil
	default:
		return nil, &email.Error{
			Kind:      email.KindAuth,
			Component: "smtp",
			Message:   "unsupported auth mechanism " + name,
		}
	}
}

// negotiate drives the challenge/response conversation on an already
// greeted connection: AUTH command, then 334 challenges answered by the
// mechanism until 235. Any other code fails with an auth error carrying
// the raw server text. The caller closes the connection afterwards.
func negotiate(conn *Conn, mech Mechanism) error {
	initial, err := mech.Start()
	if err != nil {
		return authError(mech, "", err)
	}

	cmd := "AUTH " + mech.Name()
	if initial != nil {
		cmd += " " + base64.StdEncoding.EncodeToString(initial)
	}

	c := conn
	c.deadline()
	if _, err := c.w.WriteString(cmd + "\r\n"); err != nil {
		return wrapIOError("writing auth command", err)
	}
	if err := c.w.Flush(); err != nil {
		return wrapIOError("writing auth command", err)
	}

	for step := 0; ; step++ {
		reply, err := c.readReply()
		if err != nil {
			return err
		}

		switch reply.Code {
		case CodeAuthOK:
			return nil
		case CodeAuthContinue:
			challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(reply.Text()))
			if err != nil {
				return authError(mech, reply.Raw(), fmt.Errorf("undecodable challenge: %w", err))
			}
			resp, err := mech.Next(challenge)
			if err != nil {
				// Cancel the exchange so the server state stays sane,
				// then report the mechanism failure.
				c.deadline()
				c.w.WriteString("*\r\n")
				c.w.Flush()
				c.readReply()
				return authError(mech, reply.Raw(), err)
			}
			c.deadline()
			if _, err := c.w.WriteString(base64.StdEncoding.EncodeToString(resp) + "\r\n"); err != nil {
				return wrapIOError("writing auth response", err)
			}
			if err := c.w.Flush(); err != nil {
				return wrapIOError("writing auth response", err)
			}
		default:
			return authError(mech, reply.Raw(), nil)
		}
	}
}

func authError(mech Mechanism, raw string, cause error) error {
	return &email.Error{
		Kind:      email.KindAuth,
		Component: "smtp",
		Message:   mech.Name() + " authentication failed",
		Raw:       raw,
		Cause:     cause,
	}
}

// loginMechanism implements AUTH LOGIN: username and password are sent as
// separate base64 responses to two 334 challenges.
type loginMechanism struct {
	username string
	password string
	step     int
}

func (m *loginMechanism) Name() string { return "LOGIN" }

func (m *loginMechanism) Start() ([]byte, error) { return nil, nil }

func (m *loginMechanism) Next(_ []byte) ([]byte, error) {
	switch m.step {
	case 0:
		m.step++
		return []byte(m.username), nil
	case 1:
		m.step++
		return []byte(m.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge at step %d", m.step)
	}
}

// plainMechanism implements SASL PLAIN (RFC 4616): a single
// NUL-delimited blob inlined into the AUTH command.
type plainMechanism struct {
	username string
	password string
}

func (m *plainMechanism) Name() string { return "PLAIN" }

func (m *plainMechanism) Start() ([]byte, error) {
	return []byte("\x00" + m.username + "\x00" + m.password), nil
}

func (m *plainMechanism) Next(_ []byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected PLAIN challenge")
}

// cramMD5Mechanism implements CRAM-MD5 (RFC 2195): the response is the
// username, a space, and the hex HMAC-MD5 of the raw challenge keyed by
// the password.
type cramMD5Mechanism struct {
	username string
	secret   string
}

func (m *cramMD5Mechanism) Name() string { return "CRAM-MD5" }

func (m *cramMD5Mechanism) Start() ([]byte, error) { return nil, nil }

func (m *cramMD5Mechanism) Next(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(m.secret))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(m.username + " " + digest), nil
}

// xoauth2Mechanism implements XOAUTH2: the SASL string
// "user=<user>\x01auth=Bearer <token>\x01\x01" sent inline. On failure
// the server sends a 334 with error details; the empty response it
// expects is provided once before giving up.
type xoauth2Mechanism struct {
	username string
	token    string
	step     int
}

func (m *xoauth2Mechanism) Name() string { return "XOAUTH2" }

func (m *xoauth2Mechanism) Start() ([]byte, error) {
	return []byte("user=" + m.username + "\x01auth=Bearer " + m.token + "\x01\x01"), nil
}

func (m *xoauth2Mechanism) Next(challenge []byte) ([]byte, error) {
	if m.step == 0 {
		m.step++
		return []byte{}, nil
	}
	return nil, fmt.Errorf("server rejected XOAUTH2 token: %s", challenge)
}
