package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/go-resty/resty/v2"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 512
)

type httpSendRequest struct {
	MessageID string         `json:"messageId"`
	To        string         `json:"to"`
	Category  string         `json:"category"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
}

// HTTPProvider posts messages as JSON to an email relay endpoint.
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewHTTPProvider(endpoint string, apiKey string, timeout time.Duration) (*HTTPProvider, error) {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewHTTPProviderWithClient(endpoint, apiKey, client)
}

func NewHTTPProviderWithClient(endpoint string, apiKey string, client *resty.Client) (*HTTPProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
	}, nil
}

func (p *HTTPProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return nil, &ProviderError{Message: "recipient is required", Kind: KindPermanent}
	}

	reqBody := httpSendRequest{
		MessageID: msg.ID,
		To:        msg.Recipient,
		Category:  msg.Category.String(),
		Template:  msg.TemplateID,
		Data:      msg.Payload,
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", msg.ID).
		SetBody(reqBody)
	if p.apiKey != "" {
		req.SetAuthToken(p.apiKey)
	}

	response, err := req.Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message: "provider request failed",
			Kind:    KindTransient,
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message: "provider returned empty response",
			Kind:    KindTransient,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Kind:       kindForHTTPStatus(statusCode),
	}
}

func kindForHTTPStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusRequestTimeout:
		return KindTransient
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return KindPermanent
	default:
		return KindTransient
	}
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, domain.TruncateText(body, maxErrorBodyBytes))
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
