// Package position re-establishes the engine's position state from the
// venue's records. The gateway is the source of truth: the engine never
// trusts its own prior in-memory state across a restart or reconnect.
package position

import (
	"context"
	"fmt"

	"github.com/Qatanajs/Algo-Trading-Production/internal/broker"
	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
)

// Recover returns the open position for tag as reported by the gateway, or a
// flat position when none exists. It is idempotent: repeated calls against an
// unchanged venue yield the same position.
//
// When several open positions carry the same tag the earliest opened one
// wins. That is only a deterministic tie-break; keeping the account at one
// position per tag is the operator's responsibility.
func Recover(ctx context.Context, gw broker.Gateway, tag string) (market.Position, error) {
	open, err := gw.OpenPositions(ctx, tag)
	if err != nil {
		return market.Position{}, fmt.Errorf("query open positions: %w", err)
	}

	best := market.FlatPosition(tag)
	for _, p := range open {
		if p.Tag != tag || !p.Open() {
			continue
		}
		if !best.Open() || p.EntryTime.Before(best.EntryTime) {
			best = p
		}
	}
	return best, nil
}
