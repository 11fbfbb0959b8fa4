package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/campaign-runner/internal/circuitbreaker"
	"github.com/campaign-runner/internal/config"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/retry"
)

// panel is one configured provider endpoint
type panel struct {
	name    string
	apiURL  string
	apiKey  string
	limiter *rate.Limiter
}

// SMMClient implements OrderClient against the v2 panel API shared by the
// supported providers: form-encoded POSTs carrying key and action.
type SMMClient struct {
	client   *http.Client
	panels   map[string]*panel
	breakers *circuitbreaker.Manager
	retry    *retry.Config
}

// NewSMMClient creates a client for every enabled provider that has an API key
func NewSMMClient(cfg config.ProvidersConfig) *SMMClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &SMMClient{
		client:   &http.Client{Timeout: timeout},
		panels:   make(map[string]*panel),
		breakers: circuitbreaker.NewManager(providerBreakerConfig),
		retry:    retry.DefaultConfig(),
	}

	for name, pc := range cfg.Providers {
		name = NormalizeProvider(name)
		if pc.APIKey == "" {
			logging.WithField("provider", name).Warn("Provider has no API key configured, skipping")
			continue
		}
		rps := pc.RPS
		if rps <= 0 {
			rps = 2
		}
		burst := pc.Burst
		if burst <= 0 {
			burst = 1
		}
		c.panels[name] = &panel{
			name:    name,
			apiURL:  pc.APIURL,
			apiKey:  pc.APIKey,
			limiter: rate.NewLimiter(rate.Limit(rps), burst),
		}
	}
	return c
}

// providerBreakerConfig opens a provider's circuit on transport failures only.
// A panel that answers with an error body is reachable.
func providerBreakerConfig(name string) *circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("provider:" + name)
	cfg.MaxFailures = 5
	cfg.IsFailure = func(err error) bool {
		catErr := apperrors.Categorize(err)
		return catErr == nil || catErr.Code != "PROVIDER_REJECTED"
	}
	return cfg
}

// Providers lists the configured provider names
func (c *SMMClient) Providers() []string {
	names := make([]string, 0, len(c.panels))
	for name := range c.panels {
		names = append(names, name)
	}
	return names
}

// BreakerStates reports the circuit state per provider
func (c *SMMClient) BreakerStates() map[string]circuitbreaker.State {
	return c.breakers.States()
}

// PlaceOrder submits a single order. It is attempted exactly once.
func (c *SMMClient) PlaceOrder(ctx context.Context, provider, serviceID, link string, quantity int) (*OrderResult, error) {
	p, err := c.panel(provider)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("action", "add")
	form.Set("service", serviceID)
	form.Set("link", link)
	form.Set("quantity", strconv.Itoa(quantity))

	var resp struct {
		Order flexString `json:"order"`
		Error string     `json:"error"`
	}
	if err := c.call(ctx, p, form, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.NewProviderRejectedError(p.name, resp.Error)
	}
	if resp.Order == "" {
		return nil, apperrors.NewProviderRejectedError(p.name, "response carried no order id")
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"provider":  p.name,
		"serviceId": serviceID,
		"quantity":  quantity,
		"orderId":   string(resp.Order),
	}).Info("Order placed")

	return &OrderResult{Provider: p.name, OrderID: string(resp.Order)}, nil
}

// OrderStatus queries an existing order, retrying transient failures
func (c *SMMClient) OrderStatus(ctx context.Context, provider, orderID string) (*OrderStatus, error) {
	p, err := c.panel(provider)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("action", "status")
	form.Set("order", orderID)

	var resp struct {
		Status     string     `json:"status"`
		Charge     flexString `json:"charge"`
		StartCount flexString `json:"start_count"`
		Remains    flexString `json:"remains"`
		Currency   string     `json:"currency"`
		Error      string     `json:"error"`
	}
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.call(ctx, p, form, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.NewProviderRejectedError(p.name, resp.Error)
	}

	return &OrderStatus{
		Provider:   p.name,
		OrderID:    orderID,
		Status:     NormalizeOrderState(resp.Status),
		RawStatus:  resp.Status,
		Charge:     string(resp.Charge),
		StartCount: string(resp.StartCount),
		Remains:    string(resp.Remains),
		Currency:   resp.Currency,
	}, nil
}

// Balance returns the account balance, retrying transient failures
func (c *SMMClient) Balance(ctx context.Context, provider string) (*Balance, error) {
	p, err := c.panel(provider)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("action", "balance")

	var resp struct {
		Balance  flexString `json:"balance"`
		Currency string     `json:"currency"`
		Error    string     `json:"error"`
	}
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.call(ctx, p, form, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.NewProviderRejectedError(p.name, resp.Error)
	}
	return &Balance{Provider: p.name, Balance: string(resp.Balance), Currency: resp.Currency}, nil
}

func (c *SMMClient) panel(provider string) (*panel, error) {
	name := NormalizeProvider(provider)
	p, ok := c.panels[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("provider", provider)
	}
	return p, nil
}

// call rate-limits, guards and performs one POST, decoding the JSON body into out
func (c *SMMClient) call(ctx context.Context, p *panel, form url.Values, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	breaker := c.breakers.GetOrCreate(p.name)
	err := breaker.Execute(ctx, func() error {
		return c.post(ctx, p, form, out)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return apperrors.NewProviderError(p.name, err)
	}
	return err
}

func (c *SMMClient) post(ctx context.Context, p *panel, form url.Values, out interface{}) error {
	payload := url.Values{}
	for k, v := range form {
		payload[k] = v
	}
	payload.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return apperrors.NewInternalError("failed to create provider request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.NewProviderTimeoutError(p.name)
		}
		return apperrors.NewProviderError(p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewProviderError(p.name, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewProviderRateLimitError(p.name)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewProviderError(p.name, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, truncate(body, 200)))
	}

	if err := json.Unmarshal(bytes.TrimSpace(body), out); err != nil {
		return apperrors.NewProviderRejectedError(p.name, fmt.Sprintf("unparseable response: %s", truncate(body, 200)))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
