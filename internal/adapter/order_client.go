// Package adapter talks to SMM panel order providers.
package adapter

import (
	"context"
	"strings"

	"github.com/campaign-runner/internal/types"
)

// OrderClient places and inspects orders on external providers.
//
// PlaceOrder is not idempotent: a call that fails after the request was sent
// may still have created an order, so callers must not repeat it.
type OrderClient interface {
	PlaceOrder(ctx context.Context, provider, serviceID, link string, quantity int) (*OrderResult, error)
	OrderStatus(ctx context.Context, provider, orderID string) (*OrderStatus, error)
	Balance(ctx context.Context, provider string) (*Balance, error)
}

// OrderResult is the provider's acknowledgement of a new order
type OrderResult struct {
	Provider string `json:"provider"`
	OrderID  string `json:"order_id"`
}

// OrderStatus is a provider's view of one order
type OrderStatus struct {
	Provider   string           `json:"provider"`
	OrderID    string           `json:"order_id"`
	Status     types.OrderState `json:"status"`
	RawStatus  string           `json:"raw_status,omitempty"`
	Charge     string           `json:"charge,omitempty"`
	StartCount string           `json:"start_count,omitempty"`
	Remains    string           `json:"remains,omitempty"`
	Currency   string           `json:"currency,omitempty"`
}

// Balance is the account balance on one provider
type Balance struct {
	Provider string `json:"provider"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// NormalizeOrderState maps the free-form status strings panels return onto OrderState
func NormalizeOrderState(raw string) types.OrderState {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return types.OrderUnknown
	case strings.Contains(s, "progress"), strings.Contains(s, "processing"):
		return types.OrderProcessing
	case strings.Contains(s, "pending"):
		return types.OrderPending
	case strings.Contains(s, "completed"), strings.Contains(s, "success"), strings.Contains(s, "finished"):
		return types.OrderCompleted
	case strings.Contains(s, "partial"):
		return types.OrderPartial
	case strings.Contains(s, "cancel"):
		return types.OrderCanceled
	case strings.Contains(s, "fail"), strings.Contains(s, "error"):
		return types.OrderFailed
	default:
		return types.OrderUnknown
	}
}

// NormalizeProvider canonicalises provider names the way the catalog does
func NormalizeProvider(name string) string {
	p := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	if p == "jap" {
		return "justanotherpanel"
	}
	return p
}
