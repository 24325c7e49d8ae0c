// Package main is the unemail command line sender: it loads a provider
// configuration, builds one message from flags and delivers it.
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/productdevbook/unemail/internal/config"
	"github.com/productdevbook/unemail/internal/email"
	"github.com/productdevbook/unemail/internal/provider"
	apiprovider "github.com/productdevbook/unemail/internal/provider/api"
	sesprovider "github.com/productdevbook/unemail/internal/provider/ses"
	smtpprovider "github.com/productdevbook/unemail/internal/provider/smtp"
	"github.com/productdevbook/unemail/internal/provider/stdout"
	engine "github.com/productdevbook/unemail/internal/smtp"
	"github.com/productdevbook/unemail/internal/store"
	unemailtls "github.com/productdevbook/unemail/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	from := flag.String("from", "", "sender address")
	to := flag.String("to", "", "comma-separated recipient addresses")
	cc := flag.String("cc", "", "comma-separated Cc addresses")
	bcc := flag.String("bcc", "", "comma-separated Bcc addresses")
	replyTo := flag.String("reply-to", "", "reply-to address")
	subject := flag.String("subject", "", "message subject")
	text := flag.String("text", "", "plain text body")
	html := flag.String("html", "", "HTML body")
	attach := flag.String("attach", "", "comma-separated files to attach")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	opts := &email.Options{
		From:    *from,
		To:      splitList(*to),
		Cc:      splitList(*cc),
		Bcc:     splitList(*bcc),
		ReplyTo: *replyTo,
		Subject: *subject,
		Text:    *text,
		HTML:    *html,
	}
	for _, path := range splitList(*attach) {
		att, err := loadAttachment(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("failed to load attachment")
		}
		opts.Attachments = append(opts.Attachments, att)
	}
	if err := opts.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid message")
	}

	// Ctrl-C cancels an in-flight send.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	prov, cleanup, err := selectProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create provider")
	}
	defer cleanup()

	log.Info().
		Str("provider", prov.Name()).
		Int("recipients", len(opts.Recipients())).
		Msg("sending message")

	res, err := prov.SendEmail(ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("send failed")
	}

	log.Info().
		Str("messageId", res.MessageID).
		Str("provider", res.Provider).
		Str("response", res.Response).
		Time("sentAt", res.SentAt).
		Msg("message sent")
}

// loadConfig loads configuration from the specified path (YAML + env
// override) or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global zerolog logger with the specified
// level. Output goes to stderr so stdout stays usable for the stdout
// provider.
func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// selectProvider builds the delivery backend from the configuration.
// Explicit selection wins; otherwise the first configured backend is
// used, falling back to stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, func(), error) {
	noop := func() {}

	name := cfg.Provider
	if name == "" {
		switch {
		case cfg.SMTPConfigured():
			name = "smtp"
		case cfg.SESConfigured():
			name = "ses"
		case cfg.APIConfigured():
			name = "api"
		default:
			name = "stdout"
		}
	}

	switch name {
	case "smtp":
		return buildSMTPProvider(cfg)
	case "ses":
		p, err := sesprovider.New(ctx, sesprovider.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		return p, noop, err
	case "api":
		return apiprovider.New(apiprovider.Config{
			Endpoint: cfg.API.Endpoint,
			APIKey:   cfg.API.APIKey,
		}), noop, nil
	case "stdout":
		return stdout.New(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown provider %q", name)
	}
}

// buildSMTPProvider assembles the SMTP engine, pool and optional message
// archive from the configuration.
func buildSMTPProvider(cfg *config.Config) (provider.Provider, func(), error) {
	noop := func() {}

	timeout, err := cfg.SMTPTimeout()
	if err != nil {
		return nil, noop, err
	}
	maxBytes, err := cfg.MaxMessageBytes()
	if err != nil {
		return nil, noop, err
	}

	engineCfg := engine.Config{
		Host:           cfg.SMTP.Host,
		Port:           cfg.SMTP.Port,
		Secure:         cfg.SMTP.Secure,
		StartTLS:       cfg.SMTP.StartTLS,
		TLSConfig:      unemailtls.ClientConfig(cfg.SMTP.Host, cfg.SMTP.InsecureSkipVerify),
		Timeout:        timeout,
		LocalName:      cfg.SMTP.LocalName,
		MaxMessageSize: maxBytes,
	}
	if cfg.AuthConfigured() {
		engineCfg.Credentials = &engine.Credentials{
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			AccessToken: cfg.SMTP.AccessToken,
			Mechanism:   cfg.SMTP.Mechanism,
		}
	}

	var st *store.Store
	if cfg.Store.Dir != "" {
		ttl, err := cfg.StoreTTL()
		if err != nil {
			return nil, noop, err
		}
		st, err = store.Open(store.Config{Dir: cfg.Store.Dir, TTL: ttl})
		if err != nil {
			return nil, noop, err
		}
	}

	p := smtpprovider.New(smtpprovider.Config{
		Engine:         engineCfg,
		MaxConnections: cfg.SMTP.MaxConnections,
		Store:          st,
	})

	cleanup := func() {
		p.Close()
		if st != nil {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("closing message store failed")
			}
		}
	}
	return p, cleanup, nil
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadAttachment reads a file and guesses its content type from the
// extension.
func loadAttachment(path string) (email.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return email.Attachment{}, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return email.Attachment{
		Filename:    filepath.Base(path),
		Content:     content,
		ContentType: contentType,
	}, nil
}
