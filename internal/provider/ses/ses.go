// Package ses implements the Provider contract on AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	"github.com/productdevbook/unemail/internal/email"
	"github.com/productdevbook/unemail/internal/retry"
)

// maxRetries and initialRetryDelay bound the exponential backoff around
// SES API calls. Retrying lives here, not in the SMTP engine: an HTTP
// send is idempotent from the caller's perspective, an SMTP transaction
// is not.
const (
	maxRetries        = 3
	initialRetryDelay = 1 * time.Second
)

// Config holds the settings for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the slice of the SES v2 client the provider uses.
// Narrowed for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends email via the AWS SES v2 API.
type Provider struct {
	client SendEmailAPI
}

// New creates a Provider backed by a real SES client.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Provider with a custom client, used for
// testing.
func NewWithClient(client SendEmailAPI) *Provider {
	return &Provider{client: client}
}

// Name returns "ses".
func (p *Provider) Name() string { return "ses" }

// Initialize verifies the provider was constructed with a client.
func (p *Provider) Initialize(_ context.Context) error {
	if p.client == nil {
		return &email.Error{
			Kind:      email.KindProvider,
			Component: "ses",
			Message:   "provider not configured",
		}
	}
	return nil
}

// IsAvailable reports whether the provider is configured.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.Initialize(ctx) == nil
}

// SendEmail delivers one message via SES. Messages with attachments are
// sent as raw MIME (the same serialized form the SMTP engine produces);
// simple messages use the structured SES format. Transient API failures
// are retried with exponential backoff.
func (p *Provider) SendEmail(ctx context.Context, opts *email.Options) (*email.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var input *sesv2.SendEmailInput
	if len(opts.Attachments) > 0 || opts.DKIM != nil {
		raw, err := email.Serialize(opts)
		if err != nil {
			return nil, err
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(opts)
	}

	var out *sesv2.SendEmailOutput
	err := retry.Do(ctx, func() error {
		var sendErr error
		out, sendErr = p.client.SendEmail(ctx, input)
		return sendErr
	}, maxRetries, initialRetryDelay)
	if err != nil {
		return nil, &email.Error{
			Kind:      email.KindProvider,
			Component: "ses",
			Message:   "ses api send failed",
			Cause:     err,
		}
	}

	messageID := uuid.NewString()
	response := ""
	if out != nil && out.MessageId != nil {
		messageID = *out.MessageId
		response = *out.MessageId
	}

	return &email.Result{
		MessageID: messageID,
		SentAt:    time.Now().UTC(),
		Response:  response,
		Provider:  p.Name(),
	}, nil
}

// buildSimpleInput maps attachment-free options onto the structured SES
// email format.
func buildSimpleInput(opts *email.Options) *sesv2.SendEmailInput {
	body := &types.Body{}

	if opts.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(opts.HTML),
			Charset: aws.String("UTF-8"),
		}
	}
	if opts.Text != "" {
		body.Text = &types.Content{
			Data:    aws.String(opts.Text),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(opts.From),
		Destination: &types.Destination{
			ToAddresses:  opts.To,
			CcAddresses:  opts.Cc,
			BccAddresses: opts.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(opts.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}
