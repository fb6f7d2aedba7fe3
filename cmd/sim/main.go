// Binary sim dry-runs the engine against the deterministic in-memory gateway.
// Useful for watching entry/exit behavior and the audit trail without a venue.
package main

import (
	"context"
	"time"

	"github.com/Qatanajs/Algo-Trading-Production/internal/audit"
	"github.com/Qatanajs/Algo-Trading-Production/internal/broker"
	"github.com/Qatanajs/Algo-Trading-Production/internal/engine"
	"github.com/Qatanajs/Algo-Trading-Production/internal/risk"
	"github.com/Qatanajs/Algo-Trading-Production/internal/signal"
	"github.com/Qatanajs/Algo-Trading-Production/internal/util"
)

func main() {
	log := util.NewLogger("debug")

	history := broker.SyntheticBars(400, 150.0, 7)
	gw := broker.NewSim(10_000, history[:250])

	writer, err := audit.NewWriter("sim_audit.csv")
	if err != nil {
		log.Fatal().Err(err).Msg("open audit log")
	}
	defer writer.Close()
	ledger := audit.NewLedger(64)

	eng := engine.New(
		gw,
		signal.Engine{Lookback: 100, TrendWindow: 200, ATRPeriod: 14, TrendThreshold: 0.03},
		risk.Sizer{
			TickValue: 1, ContractMultiplier: 100,
			MinStopDistance: 0.10, LotMin: 0.01, LotStep: 0.01, LotMax: 10,
		},
		risk.Limits{},
		audit.Tee(writer, ledger),
		log,
		engine.Params{
			Symbol:       "EURJPY",
			Timeframe:    "H1",
			Tag:          "meanrev-sim",
			BarCount:     250,
			EntryZ:       2.2,
			ExitZ:        0.2,
			StopZ:        4.0,
			RiskFraction: 0.01,
			StopATRMult:  200,
			MaxHold:      8 * time.Hour,
			CloseWeekday: time.Friday,
			CloseHourUTC: 20,
		},
	)

	ctx := context.Background()

	// replay the remaining history one bar per cycle
	for _, bar := range history[250:] {
		gw.PushBar(bar)
		eng.Cycle(ctx, bar.Ts)
	}

	for _, rec := range ledger.Snapshot() {
		log.Info().
			Str("action", string(rec.Action)).Str("status", rec.Status).
			Float64("price", rec.Price).Float64("size", rec.Size).
			Float64("pnl", rec.PnL).Str("reason", rec.Reason).
			Msg("audit")
	}
	if pos := eng.Position(); pos.Open() {
		log.Info().Str("direction", string(pos.Direction())).Float64("size", pos.Size).Msg("run ended with open position")
	}
}
