package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	var customer Customer
	if err := c.Call(ctx, http.MethodPost, "/customers", req, &customer, &CallOptions{Operation: "create_customer"}); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	var payment Payment
	if err := c.Call(ctx, http.MethodPost, "/payments", req, &payment, &CallOptions{Operation: "create_payment"}); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	var subscription Subscription
	if err := c.Call(ctx, http.MethodPost, "/subscriptions", req, &subscription, &CallOptions{Operation: "create_subscription"}); err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (c *Client) TokenizeCard(ctx context.Context, req TokenizeCardRequest) (*CardToken, error) {
	var token CardToken
	if err := c.Call(ctx, http.MethodPost, "/creditCard/tokenize", req, &token, &CallOptions{Operation: "tokenize_card"}); err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	var payment Payment
	path := "/payments/" + url.PathEscape(paymentID)
	if err := c.Call(ctx, http.MethodGet, path, nil, &payment, &CallOptions{Operation: "get_payment"}); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}

	var subscription Subscription
	path := "/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.Call(ctx, http.MethodGet, path, nil, &subscription, &CallOptions{Operation: "get_subscription"}); err != nil {
		return nil, err
	}
	return &subscription, nil
}

// ValidateWallet reports whether walletID is a known payout wallet.
// A 404 is a definitive "invalid"; any other failure is returned.
func (c *Client) ValidateWallet(ctx context.Context, walletID string) (bool, error) {
	if walletID == "" {
		return false, nil
	}

	path := "/wallets/" + url.PathEscape(walletID)
	err := c.Call(ctx, http.MethodGet, path, nil, nil, &CallOptions{Operation: "validate_wallet"})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
