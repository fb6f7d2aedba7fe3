// Binary trader runs the live execution engine against a broker bridge.
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Qatanajs/Algo-Trading-Production/internal/audit"
	"github.com/Qatanajs/Algo-Trading-Production/internal/broker"
	"github.com/Qatanajs/Algo-Trading-Production/internal/config"
	"github.com/Qatanajs/Algo-Trading-Production/internal/engine"
	"github.com/Qatanajs/Algo-Trading-Production/internal/metrics"
	"github.com/Qatanajs/Algo-Trading-Production/internal/risk"
	"github.com/Qatanajs/Algo-Trading-Production/internal/signal"
	"github.com/Qatanajs/Algo-Trading-Production/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort

	cfgPath := os.Getenv("TRADER_CONFIG")
	if cfgPath == "" {
		cfgPath = "internal/config/config.yaml"
	}
	log := util.NewLogger("info")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
	gw, err := broker.DialBridge(dialCtx, cfg.Bridge.URL, log)
	dialCancel()
	if err != nil {
		// unrecoverable: the venue must be reachable at startup
		log.Fatal().Err(err).Msg("initial gateway connection failed")
	}

	writer, err := audit.NewWriter(cfg.Engine.AuditPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open audit log")
	}
	defer writer.Close()

	eng := engine.New(
		gw,
		signal.Engine{
			Lookback:       cfg.Strategy.Lookback,
			TrendWindow:    cfg.Strategy.TrendWindow,
			ATRPeriod:      cfg.Strategy.ATRPeriod,
			TrendThreshold: cfg.Strategy.TrendThreshold,
		},
		risk.Sizer{
			TickValue:          cfg.Instrument.TickValue,
			ContractMultiplier: cfg.Instrument.ContractMultiplier,
			MinStopDistance:    cfg.Strategy.MinStopDistance,
			LotMin:             cfg.Instrument.LotMin,
			LotStep:            cfg.Instrument.LotStep,
			LotMax:             cfg.Instrument.LotMax,
		},
		risk.Limits{MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade},
		writer,
		log,
		engine.Params{
			Symbol:        cfg.Instrument.Symbol,
			Timeframe:     cfg.Instrument.Timeframe,
			Tag:           cfg.Engine.Tag,
			BarCount:      barCount(cfg.Strategy),
			EntryZ:        cfg.Strategy.EntryZ,
			ExitZ:         cfg.Strategy.ExitZ,
			StopZ:         cfg.Strategy.StopZ,
			RiskFraction:  cfg.Risk.RiskFraction,
			StopATRMult:   cfg.Strategy.StopATRMult,
			MaxHold:       cfg.Strategy.MaxHold(),
			CloseWeekday:  time.Weekday(cfg.Session.CloseWeekday),
			CloseHourUTC:  cfg.Session.CloseHourUTC,
			PollInterval:  cfg.Engine.PollInterval(),
			ReconnectWait: cfg.Engine.ReconnectDelay(),
		},
	)

	if err := eng.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutdown complete")
}

// barCount requests enough history for every window plus headroom for gaps.
func barCount(s config.Strategy) int {
	n := s.Lookback
	if s.TrendWindow > n {
		n = s.TrendWindow
	}
	if s.ATRPeriod+1 > n {
		n = s.ATRPeriod + 1
	}
	return n * 2
}
