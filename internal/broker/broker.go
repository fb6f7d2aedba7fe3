// Package broker abstracts the trading venue behind the narrow surface the
// engine needs: bar history, equity, open positions, orders, connectivity.
//
// Two concrete implementations live in separate files:
//   - sim.go    – deterministic in-memory gateway for tests and dry runs
//   - bridge.go – websocket client for a terminal sidecar
package broker

import (
	"context"
	"errors"

	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
)

var (
	// ErrDataUnavailable is returned when the venue cannot supply the
	// requested bar history.
	ErrDataUnavailable = errors.New("broker: bar history unavailable")
	// ErrNotConnected is returned by calls made while the gateway link is
	// down.
	ErrNotConnected = errors.New("broker: not connected")
)

// Order is a market order request carrying the strategy tag. For Close the
// Direction names the held side being closed, not the closing order's side.
type Order struct {
	Symbol    string
	Direction market.Direction
	Size      float64
	Tag       string
	Comment   string
}

// Result reports the outcome of an order submission. An unfilled Result with
// a nil transport error is a venue rejection.
type Result struct {
	Filled bool
	Price  float64
	Reason string // venue rejection text when not filled
}

// Gateway is the minimal venue surface the engine operates against.
type Gateway interface {
	// Bars returns count bars ordered oldest to newest.
	Bars(ctx context.Context, symbol, timeframe string, count int) ([]market.Bar, error)
	// OpenPositions returns the venue's open positions matching tag.
	OpenPositions(ctx context.Context, tag string) ([]market.Position, error)
	// Equity returns current account equity in quote currency.
	Equity(ctx context.Context) (float64, error)
	// Submit places a market order opening a position.
	Submit(ctx context.Context, o Order) (Result, error)
	// Close places a market order closing the held position.
	Close(ctx context.Context, o Order) (Result, error)
	// Connected reports whether the venue link is up.
	Connected() bool
	// Reconnect re-establishes a dropped link.
	Reconnect(ctx context.Context) error
	// Shutdown releases the link. Open positions are left untouched.
	Shutdown() error
}
