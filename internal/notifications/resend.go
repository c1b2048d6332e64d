package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

const defaultSendTimeout = 10 * time.Second

var (
	errMissingResendAPIKey = errors.New("resend api key is required")
	errMissingFromAddress  = errors.New("from address is required")
	errInvalidResendURL    = errors.New("resend base url is invalid")
)

// ResendConfig configures the Resend API sender.
type ResendConfig struct {
	APIKey      string
	FromAddress string
	// BaseURL overrides the Resend API root; empty uses the SDK default.
	BaseURL    string
	HTTPClient *http.Client
}

// ResendSender delivers emails through the Resend SDK.
type ResendSender struct {
	from   string
	client *resend.Client
}

// NewResendSender validates the configuration and returns a sender.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingResendAPIKey
	}
	from := strings.TrimSpace(cfg.FromAddress)
	if from == "" {
		return nil, errMissingFromAddress
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSendTimeout}
	}

	client := resend.NewCustomClient(httpClient, apiKey)
	if raw := strings.TrimSpace(cfg.BaseURL); raw != "" {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		baseURL, err := url.Parse(raw)
		if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidResendURL, cfg.BaseURL)
		}
		client.BaseURL = baseURL
	}
	return &ResendSender{from: from, client: client}, nil
}

func (s *ResendSender) Send(ctx context.Context, email Email) error {
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
