// Package billing queries the external subscription service.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/Tyav/anymessage/internal/config"
)

// Client checks subscription state over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New constructs a Client.
func New(cfg config.BillingConfig, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// HasActiveSubscription reports whether the billing customer holds an
// active subscription. Customers unknown to the billing service are
// reported inactive.
func (c *Client) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/customers/%s/subscription", c.baseURL, url.PathEscape(customerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("billing request failed", "customer_id", customerID, "error", err)
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("billing service returned %s", resp.Status)
	}
	var payload struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, err
	}
	return payload.Active, nil
}
