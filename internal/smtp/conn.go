// Package smtp implements a hand-rolled SMTP client engine (RFC 5321):
// reply parsing, connection management, SASL authentication, and the
// command/response transaction that submits a serialized message.
package smtp

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/productdevbook/unemail/internal/email"
)

// Reply codes the engine acts on. Anything else at a checkpoint is a
// protocol failure.
const (
	CodeReady         = 220 // greeting, STARTTLS go-ahead
	CodeClosing       = 221 // QUIT acknowledgement
	CodeAuthOK        = 235 // authentication succeeded
	CodeOK            = 250 // generic success
	CodeAuthContinue  = 334 // intermediate auth challenge
	CodeStartMailData = 354 // DATA go-ahead
)

// maxReplyLineLen bounds a single reply line to keep a misbehaving server
// from exhausting memory.
const maxReplyLineLen = 2048

// Reply is one parsed SMTP reply: a final status code and one text line
// per reply line, continuation lines included.
type Reply struct {
	Code  int
	Lines []string
}

// Text returns the reply text joined with newlines.
func (r Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Raw returns the final reply line as the server sent it, for error
// reporting.
func (r Reply) Raw() string {
	if len(r.Lines) == 0 {
		return strconv.Itoa(r.Code)
	}
	return fmt.Sprintf("%d %s", r.Code, r.Lines[len(r.Lines)-1])
}

// Conn is one SMTP connection. It owns the socket and enforces the
// one-command-at-a-time contract: a command is never written before the
// previous reply has been fully read and classified.
type Conn struct {
	nc      net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	closed  bool
}

func newConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		nc:      nc,
		r:       bufio.NewReaderSize(nc, 4096),
		w:       bufio.NewWriterSize(nc, 4096),
		timeout: timeout,
	}
}

// Close releases the socket. Safe to call more than once; only the first
// call closes the handle.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.nc.Close()
}

// upgrade swaps the underlying socket after a TLS handshake and resets
// the buffered reader/writer.
func (c *Conn) upgrade(nc net.Conn) {
	c.nc = nc
	c.r = bufio.NewReaderSize(nc, 4096)
	c.w = bufio.NewWriterSize(nc, 4096)
}

// deadline arms the socket deadline for the next read or write.
func (c *Conn) deadline() {
	if c.timeout > 0 {
		c.nc.SetDeadline(time.Now().Add(c.timeout))
	}
}

// Cmd writes a CRLF-terminated command line and waits for the complete
// reply, which must carry one of the accept codes. A rejecting final code
// yields a protocol error with the raw server line; a read timeout yields
// a connection error classified as timeout.
func (c *Conn) Cmd(line string, accept ...int) (Reply, error) {
	c.deadline()
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		return Reply{}, wrapIOError("writing command", err)
	}
	if err := c.w.Flush(); err != nil {
		return Reply{}, wrapIOError("writing command", err)
	}
	return c.Expect(accept...)
}

// Expect reads the next complete reply and validates it against the
// accept set. The 220 greeting is consumed through Expect with no command
// written, as the reply to the implicit connect.
func (c *Conn) Expect(accept ...int) (Reply, error) {
	reply, err := c.readReply()
	if err != nil {
		return Reply{}, err
	}
	for _, code := range accept {
		if reply.Code == code {
			return reply, nil
		}
	}
	return Reply{}, &email.Error{
		Kind:      email.KindProtocol,
		Component: "smtp",
		Message:   fmt.Sprintf("unexpected status %d, want %v", reply.Code, accept),
		Raw:       reply.Raw(),
	}
}

// readReply assembles one reply, buffering partial reads until a line
// whose 4th character is a space marks the reply complete. Continuation
// lines use a hyphen in that position and share the leading code.
func (c *Conn) readReply() (Reply, error) {
	var reply Reply
	for {
		c.deadline()
		line, err := c.readLine()
		if err != nil {
			return Reply{}, wrapIOError("reading reply", err)
		}

		if len(line) < 3 {
			return Reply{}, &email.Error{
				Kind:      email.KindProtocol,
				Component: "smtp",
				Message:   "reply line too short",
				Raw:       line,
			}
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, &email.Error{
				Kind:      email.KindProtocol,
				Component: "smtp",
				Message:   "malformed reply code",
				Raw:       line,
			}
		}
		reply.Code = code

		// "250" alone is a valid terminal line.
		if len(line) == 3 {
			reply.Lines = append(reply.Lines, "")
			return reply, nil
		}

		switch line[3] {
		case '-':
			reply.Lines = append(reply.Lines, line[4:])
		case ' ':
			reply.Lines = append(reply.Lines, line[4:])
			return reply, nil
		default:
			return Reply{}, &email.Error{
				Kind:      email.KindProtocol,
				Component: "smtp",
				Message:   "malformed reply separator",
				Raw:       line,
			}
		}
	}
}

// readLine reads one CRLF-terminated line without the terminator. The
// bufio reader may hand the line back in chunks when the peer's write was
// split; they are stitched together here.
func (c *Conn) readLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		line = append(line, chunk...)
		if err != nil {
			return "", err
		}
		if !isPrefix {
			return string(line), nil
		}
		if len(line) > maxReplyLineLen {
			return "", fmt.Errorf("reply line exceeds %d bytes", maxReplyLineLen)
		}
	}
}

// WriteData streams the DATA payload: dot-stuffs lines that begin with a
// period, guarantees a trailing CRLF, appends the bare-dot terminator,
// and waits for the 250 acceptance.
func (c *Conn) WriteData(payload []byte) (Reply, error) {
	c.deadline()

	lines := bytes.Split(payload, []byte("\r\n"))
	for i, line := range lines {
		if i == len(lines)-1 && len(line) == 0 {
			// Payload already ended with CRLF.
			break
		}
		if len(line) > 0 && line[0] == '.' {
			if err := c.w.WriteByte('.'); err != nil {
				return Reply{}, wrapIOError("writing data", err)
			}
		}
		if _, err := c.w.Write(line); err != nil {
			return Reply{}, wrapIOError("writing data", err)
		}
		if _, err := c.w.WriteString("\r\n"); err != nil {
			return Reply{}, wrapIOError("writing data", err)
		}
	}

	if _, err := c.w.WriteString(".\r\n"); err != nil {
		return Reply{}, wrapIOError("writing data terminator", err)
	}
	if err := c.w.Flush(); err != nil {
		return Reply{}, wrapIOError("writing data terminator", err)
	}

	return c.Expect(CodeOK)
}

// wrapIOError classifies a socket-level failure mid-conversation.
func wrapIOError(action string, err error) error {
	reason := email.ReasonNone
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		reason = email.ReasonTimeout
	}
	return &email.Error{
		Kind:      email.KindConnection,
		Component: "smtp",
		Message:   action + " failed",
		Reason:    reason,
		Cause:     err,
	}
}
