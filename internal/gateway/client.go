// Package gateway wraps the order gateway (C3): a single
// place-limit-order operation, classifying SDK failures into
// GatewayRejected or GatewayTransient per the spec's taxonomy.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/domain"
)

// OrderAck is the gateway's response to a successful submission.
type OrderAck struct {
	OrderID string
	Status  string
}

// Client submits limit orders through the venue's CLOB, the way the
// reference app's placeLimit builds and signs an order.
type Client struct {
	clobClient clob.Client
	signer     auth.Signer
}

// New wraps an authenticated CLOB client and signer.
func New(clobClient clob.Client, signer auth.Signer) *Client {
	return &Client{clobClient: clobClient, signer: signer}
}

// PlaceLimitOrder submits a GTC limit order for shares at price, returning
// an ack on success or a GatewayRejected/GatewayTransient on failure.
func (c *Client) PlaceLimitOrder(ctx context.Context, tokenID string, side domain.Side, price, shares decimal.Decimal) (OrderAck, error) {
	notional, _ := price.Mul(shares).Float64()

	builder := clob.NewOrderBuilder(c.clobClient, c.signer).
		TokenID(tokenID).
		Side(string(side)).
		Price(mustFloat(price)).
		AmountUSDC(notional).
		OrderType(clobtypes.OrderTypeGTC)

	signable, err := builder.BuildSignableWithContext(ctx)
	if err != nil {
		return OrderAck{}, &domain.GatewayRejected{Reason: fmt.Sprintf("build order: %v", err)}
	}

	resp, err := c.clobClient.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return OrderAck{}, classifySubmitError(err)
	}
	if resp.ID == "" || strings.EqualFold(resp.Status, "REJECTED") {
		return OrderAck{}, &domain.GatewayRejected{Reason: fmt.Sprintf("order not accepted, status=%s", resp.Status)}
	}

	return OrderAck{OrderID: resp.ID, Status: resp.Status}, nil
}

// classifySubmitError maps SDK submission errors to the gateway taxonomy.
// Deterministic rejections (bad params, insufficient balance, kill-switch)
// surface as GatewayRejected; anything else (timeouts, connection resets)
// is GatewayTransient — the default is transient since an unrecognized
// error from the venue is not provably deterministic.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	rejectMarkers := []string{"invalid", "insufficient", "kill", "not tradeable", "closed market", "bad request"}
	for _, m := range rejectMarkers {
		if strings.Contains(msg, m) {
			return &domain.GatewayRejected{Reason: err.Error()}
		}
	}
	return &domain.GatewayTransient{Op: "place-limit-order", Err: err}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
