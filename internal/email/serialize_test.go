package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testBoundary = "test-boundary"

func baseOptions() *Options {
	return &Options{
		From:    "sender@example.com",
		To:      []string{"to1@example.com", "to2@example.com"},
		Subject: "Greetings",
		Text:    "plain body",
	}
}

func TestSerializeHeaderOrder(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.Cc = []string{"cc@example.com"}
	opts.Bcc = []string{"bcc@example.com"}
	opts.ReplyTo = "replies@example.com"
	opts.Headers = []Header{
		{Name: "X-Campaign", Value: "spring"},
		{Name: "X-Priority", Value: "1"},
	}

	raw, err := serialize(opts, testBoundary)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	headerBlock := string(raw[:bytes.Index(raw, []byte("\r\n\r\n"))])
	lines := strings.Split(headerBlock, "\r\n")

	want := []string{
		"From: sender@example.com",
		"To: to1@example.com, to2@example.com",
		"Cc: cc@example.com",
		"Bcc: bcc@example.com",
		"Reply-To: replies@example.com",
		"Subject: Greetings",
		"MIME-Version: 1.0",
		"X-Campaign: spring",
		"X-Priority: 1",
		`Content-Type: multipart/mixed; boundary="test-boundary"`,
	}

	if len(lines) != len(want) {
		t.Fatalf("got %d header lines, want %d:\n%s", len(lines), len(want), headerBlock)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("header line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestSerializeOmitsEmptyHeaders(t *testing.T) {
	t.Parallel()

	raw, err := serialize(baseOptions(), testBoundary)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	for _, absent := range []string{"Cc:", "Bcc:", "Reply-To:"} {
		if bytes.Contains(raw, []byte(absent)) {
			t.Errorf("serialized message should not contain %q", absent)
		}
	}
}

func TestSerializeBodyParts(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.HTML = "<p>rich body</p>"

	raw, err := serialize(opts, testBoundary)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	msg := string(raw)

	textPart := "--test-boundary\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"Content-Transfer-Encoding: 7bit\r\n\r\n" +
		"plain body\r\n"
	htmlPart := "--test-boundary\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"Content-Transfer-Encoding: 7bit\r\n\r\n" +
		"<p>rich body</p>\r\n"

	textIdx := strings.Index(msg, textPart)
	htmlIdx := strings.Index(msg, htmlPart)
	if textIdx < 0 {
		t.Fatalf("missing text part in:\n%s", msg)
	}
	if htmlIdx < 0 {
		t.Fatalf("missing html part in:\n%s", msg)
	}
	if textIdx > htmlIdx {
		t.Error("text part must come before html part")
	}
	if !strings.HasSuffix(msg, "--test-boundary--\r\n") {
		t.Error("missing closing boundary marker")
	}
}

func TestSerializeAttachment(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("attachment payload "), 20)
	opts := baseOptions()
	opts.Attachments = []Attachment{{
		Filename:    "report.pdf",
		Content:     content,
		ContentType: "application/pdf",
	}}

	raw, err := serialize(opts, testBoundary)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	msg := string(raw)

	wantHeaders := "Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n"
	idx := strings.Index(msg, wantHeaders)
	if idx < 0 {
		t.Fatalf("missing attachment headers in:\n%s", msg)
	}

	encoded := msg[idx+len(wantHeaders):]
	encoded = encoded[strings.Index(encoded, "\r\n\r\n")+4:]
	encoded = encoded[:strings.Index(encoded, "\r\n--")]

	var joined strings.Builder
	for _, line := range strings.Split(encoded, "\r\n") {
		if len(line) > base64LineLen {
			t.Errorf("base64 line is %d chars, limit is %d", len(line), base64LineLen)
		}
		joined.WriteString(line)
	}

	decoded, err := base64.StdEncoding.DecodeString(joined.String())
	if err != nil {
		t.Fatalf("decoding attachment: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Error("decoded attachment does not match the original content")
	}
}

func TestSerializeInlineAttachment(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.Attachments = []Attachment{{
		Filename:    "logo.png",
		Content:     []byte{0x89, 0x50, 0x4e, 0x47},
		ContentType: "image/png",
		Disposition: "inline",
		ContentID:   "logo",
	}}

	raw, err := serialize(opts, testBoundary)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	msg := string(raw)

	if !strings.Contains(msg, `Content-Disposition: inline; filename="logo.png"`) {
		t.Error("missing inline disposition")
	}
	if !strings.Contains(msg, "Content-ID: <logo>\r\n") {
		t.Error("missing Content-ID header")
	}
}

func TestSerializeRandomBoundary(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	first, err := Serialize(opts)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	second, err := Serialize(opts)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Error("two serializations should differ in their boundary")
	}
}

// fakeSigner records its input and returns a canned signature value.
type fakeSigner struct {
	domain   string
	selector string
	message  []byte
	err      error
}

func (s *fakeSigner) Sign(domain, selector string, _, message []byte) (string, error) {
	s.domain = domain
	s.selector = selector
	s.message = message
	if s.err != nil {
		return "", s.err
	}
	return "v=1; d=" + domain + "; s=" + selector + "; b=sig", nil
}

func TestSerializeDKIM(t *testing.T) {
	t.Parallel()

	signer := &fakeSigner{}
	opts := baseOptions()
	opts.DKIM = &DKIMConfig{
		Domain:   "example.com",
		Selector: "mail",
		Signer:   signer,
	}

	raw, err := serialize(opts, testBoundary)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	wantPrefix := "DKIM-Signature: v=1; d=example.com; s=mail; b=sig\r\n"
	if !strings.HasPrefix(string(raw), wantPrefix) {
		t.Fatalf("message does not start with the signature header:\n%s", raw[:80])
	}
	// The signer must see the message without its own header.
	if !bytes.Equal(raw[len(wantPrefix):], signer.message) {
		t.Error("signed message body does not match the signer input")
	}
}

func TestSerializeDKIMSignerFailure(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.DKIM = &DKIMConfig{
		Domain:   "example.com",
		Selector: "mail",
		Signer:   &fakeSigner{err: errors.New("bad key")},
	}

	_, err := serialize(opts, testBoundary)
	if err == nil {
		t.Fatal("expected signer failure to propagate")
	}
	if !IsKind(err, KindSerialization) {
		t.Errorf("expected a serialization error, got %v", err)
	}
}

func TestSerializeDKIMWithoutSigner(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.DKIM = &DKIMConfig{Domain: "example.com", Selector: "mail"}

	_, err := serialize(opts, testBoundary)
	if err == nil {
		t.Fatal("expected an error for dkim without a signer")
	}
	if !IsKind(err, KindSerialization) {
		t.Errorf("expected a serialization error, got %v", err)
	}
}
