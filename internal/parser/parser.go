// Package parser reads a serialized RFC 5322 message back into the send
// options it was built from. It backs the round-trip checks on the MIME
// serializer and the retrieval side of the sent-message store.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/productdevbook/unemail/internal/email"
)

// Parse parses a raw message into email.Options. Multipart bodies are
// unfolded into text/html bodies and decoded attachments; single-part
// bodies land in Text or HTML according to their content type.
func Parse(raw []byte) (*email.Options, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	opts := &email.Options{
		From:    firstAddress(msg.Header.Get("From")),
		To:      addressList(msg.Header.Get("To")),
		Cc:      addressList(msg.Header.Get("Cc")),
		Bcc:     addressList(msg.Header.Get("Bcc")),
		ReplyTo: firstAddress(msg.Header.Get("Reply-To")),
		Subject: msg.Header.Get("Subject"),
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parsing content type %q: %w", contentType, err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, opts); err != nil {
			return nil, fmt.Errorf("parsing multipart body: %w", err)
		}
		return opts, nil
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if mediaType == "text/html" {
		opts.HTML = string(body)
	} else {
		opts.Text = string(body)
	}
	return opts, nil
}

// parseMultipart walks the parts of one boundary-delimited body.
func parseMultipart(body io.Reader, boundary string, opts *email.Options) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading next part: %w", err)
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			log.Warn().Str("contentType", part.Header.Get("Content-Type")).Err(err).
				Msg("skipping part with unparseable content type")
			continue
		}

		// Nested multipart (e.g. multipart/alternative inside mixed).
		if strings.HasPrefix(mediaType, "multipart/") {
			nested := params["boundary"]
			if nested == "" {
				continue
			}
			if err := parseMultipart(part, nested, opts); err != nil {
				return err
			}
			continue
		}

		content, err := partContent(part)
		if err != nil {
			return fmt.Errorf("reading %s part: %w", mediaType, err)
		}

		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		isAttachment := disposition == "attachment" ||
			(disposition == "inline" && dispParams["filename"] != "")

		switch {
		case isAttachment:
			opts.Attachments = append(opts.Attachments, email.Attachment{
				Filename:    partFilename(part, params),
				Content:     content,
				ContentType: mediaType,
				Disposition: disposition,
				ContentID:   strings.Trim(part.Header.Get("Content-ID"), "<>"),
			})
		case mediaType == "text/plain" && opts.Text == "":
			opts.Text = strings.TrimSuffix(string(content), "\r\n")
		case mediaType == "text/html" && opts.HTML == "":
			opts.HTML = strings.TrimSuffix(string(content), "\r\n")
		default:
			log.Warn().Str("contentType", mediaType).Str("disposition", disposition).
				Msg("skipping unrecognized part")
		}
	}
}

// partContent reads a part, decoding base64 transfer encoding. The
// multipart reader already handles quoted-printable transparently.
func partContent(part *multipart.Part) ([]byte, error) {
	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 content: %w", err)
	}
	return decoded, nil
}

// partFilename takes the filename from Content-Disposition, falling back
// to the Content-Type name parameter.
func partFilename(part *multipart.Part, typeParams map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	return typeParams["name"]
}

// addressList splits a comma-separated header into bare addresses.
func addressList(raw string) []string {
	if raw == "" {
		return nil
	}
	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	out := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, addr.Address)
	}
	return out
}

func firstAddress(raw string) string {
	list := addressList(raw)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
