// Package email defines the core email data model shared by all delivery
// backends: send options, attachments, results, validation, the error
// taxonomy, and the multipart MIME serializer.
package email

import (
	"regexp"
	"time"
)

// addressPattern checks the shape of an address before any network activity.
// Intentionally stricter than RFC 5321 on the local part; display names and
// source routes are not accepted here.
var addressPattern = regexp.MustCompile(
	`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`,
)

// Options describes one outgoing email message.
type Options struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string

	// Headers are caller-supplied custom headers, emitted in order after
	// the fixed header block.
	Headers []Header

	Attachments []Attachment

	// DKIM, when non-nil, makes the serializer prepend a DKIM-Signature
	// header produced by the configured signer.
	DKIM *DKIMConfig
}

// Header is a single custom header. Order matters, so this is a slice
// element rather than a map entry.
type Header struct {
	Name  string
	Value string
}

// Attachment is a file attached to an outgoing message. Content is raw
// bytes; the serializer always re-encodes it to base64 regardless of the
// original encoding.
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string

	// Disposition defaults to "attachment" when empty. Use "inline"
	// together with ContentID for images referenced from the HTML body.
	Disposition string
	ContentID   string
}

// DKIMConfig configures DKIM signing of outgoing messages. The signing
// itself (canonicalization, crypto) is delegated to the Signer.
type DKIMConfig struct {
	Domain     string
	Selector   string
	PrivateKey []byte
	Signer     Signer
}

// Signer produces the value of a DKIM-Signature header for a fully
// serialized message.
type Signer interface {
	Sign(domain, selector string, privateKey, message []byte) (string, error)
}

// Result is the outcome of a successful send. SMTP does not return a
// message id, so MessageID is generated locally by the sending backend.
type Result struct {
	MessageID string
	SentAt    time.Time

	// Response is the raw server acceptance text (the final 250 line for
	// SMTP, or the API response id for REST backends).
	Response string

	// Provider is the name of the backend that performed the send.
	Provider string
}

// ValidAddress reports whether addr has an acceptable shape.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// Validate checks o before any network activity: a from address, at least
// one recipient, a subject, at least one of text/html, and well-shaped
// addresses everywhere. Returns a KindValidation error on failure.
func (o *Options) Validate() error {
	if o.From == "" {
		return &Error{Kind: KindValidation, Component: "email", Message: "from address is required"}
	}
	if len(o.To)+len(o.Cc)+len(o.Bcc) == 0 {
		return &Error{Kind: KindValidation, Component: "email", Message: "at least one recipient is required"}
	}
	if o.Subject == "" {
		return &Error{Kind: KindValidation, Component: "email", Message: "subject is required"}
	}
	if o.Text == "" && o.HTML == "" {
		return &Error{Kind: KindValidation, Component: "email", Message: "a text or html body is required"}
	}

	if !ValidAddress(o.From) {
		return &Error{Kind: KindValidation, Component: "email", Message: "invalid from address: " + o.From}
	}
	if o.ReplyTo != "" && !ValidAddress(o.ReplyTo) {
		return &Error{Kind: KindValidation, Component: "email", Message: "invalid reply-to address: " + o.ReplyTo}
	}
	for _, addr := range o.Recipients() {
		if !ValidAddress(addr) {
			return &Error{Kind: KindValidation, Component: "email", Message: "invalid recipient address: " + addr}
		}
	}

	return nil
}

// Recipients flattens To, then Cc, then Bcc into the ordered envelope
// recipient list. No de-duplication: the caller's list is the envelope.
func (o *Options) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	out = append(out, o.To...)
	out = append(out, o.Cc...)
	out = append(out, o.Bcc...)
	return out
}
