package email

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// base64LineLen is the maximum encoded line length per RFC 2045 §6.8.
const base64LineLen = 76

// Serialize converts o into a multipart/mixed MIME document ready for
// transmission. A fresh random boundary is generated per call, so two
// serializations of the same options are not byte-identical. The returned
// slice is owned by the caller and never mutated afterwards.
//
// Header order is deterministic: From, To, Cc, Bcc, Reply-To, Subject,
// MIME-Version, custom headers, Content-Type. When o.DKIM is set, the
// signer runs over the assembled message and its DKIM-Signature header is
// prepended before everything else.
func Serialize(o *Options) ([]byte, error) {
	return serialize(o, newBoundary())
}

func serialize(o *Options, boundary string) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", o.From)
	writeHeader(&buf, "To", strings.Join(o.To, ", "))
	if len(o.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(o.Cc, ", "))
	}
	if len(o.Bcc) > 0 {
		writeHeader(&buf, "Bcc", strings.Join(o.Bcc, ", "))
	}
	if o.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", o.ReplyTo)
	}
	writeHeader(&buf, "Subject", o.Subject)
	writeHeader(&buf, "MIME-Version", "1.0")
	for _, h := range o.Headers {
		writeHeader(&buf, h.Name, h.Value)
	}
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	if o.Text != "" {
		writeTextPart(&buf, boundary, "text/plain", o.Text)
	}
	if o.HTML != "" {
		writeTextPart(&buf, boundary, "text/html", o.HTML)
	}
	for _, att := range o.Attachments {
		writeAttachmentPart(&buf, boundary, att)
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	msg := buf.Bytes()

	if o.DKIM != nil {
		if o.DKIM.Signer == nil {
			return nil, &Error{
				Kind:      KindSerialization,
				Component: "email",
				Message:   "dkim configured without a signer",
			}
		}
		sig, err := o.DKIM.Signer.Sign(o.DKIM.Domain, o.DKIM.Selector, o.DKIM.PrivateKey, msg)
		if err != nil {
			return nil, &Error{
				Kind:      KindSerialization,
				Component: "email",
				Message:   "dkim signing failed",
				Cause:     err,
			}
		}
		signed := make([]byte, 0, len(msg)+len(sig)+20)
		signed = append(signed, "DKIM-Signature: "...)
		signed = append(signed, sig...)
		signed = append(signed, "\r\n"...)
		signed = append(signed, msg...)
		return signed, nil
	}

	return msg, nil
}

// writeHeader writes a single CRLF-terminated header line.
func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// writeTextPart writes a text/plain or text/html body part.
func writeTextPart(buf *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	fmt.Fprintf(buf, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	buf.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
}

// writeAttachmentPart writes one attachment part. Content is always
// re-encoded to base64, whatever the input was.
func writeAttachmentPart(buf *bytes.Buffer, boundary string, att Attachment) {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := att.Disposition
	if disposition == "" {
		disposition = "attachment"
	}

	fmt.Fprintf(buf, "--%s\r\n", boundary)
	fmt.Fprintf(buf, "Content-Type: %s; name=%q\r\n", contentType, att.Filename)
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(buf, "Content-Disposition: %s; filename=%q\r\n", disposition, att.Filename)
	if att.ContentID != "" {
		fmt.Fprintf(buf, "Content-ID: <%s>\r\n", att.ContentID)
	}
	buf.WriteString("\r\n")
	buf.WriteString(encodeBase64Wrapped(att.Content))
	buf.WriteString("\r\n")
}

// encodeBase64Wrapped encodes data to base64 broken into 76-character
// lines per RFC 2045.
func encodeBase64Wrapped(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for i := 0; i < len(encoded); i += base64LineLen {
		end := i + base64LineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
		b.WriteString("\r\n")
	}
	return strings.TrimSuffix(b.String(), "\r\n")
}

// newBoundary generates a random MIME boundary token.
func newBoundary() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return "unemail-" + hex.EncodeToString(raw[:])
}
