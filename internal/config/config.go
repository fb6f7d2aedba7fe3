// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Instrument describes the traded contract and its venue sizing constraints.
type Instrument struct {
	Symbol             string  `yaml:"symbol"`
	Timeframe          string  `yaml:"timeframe"`
	TickValue          float64 `yaml:"tick_value"`
	ContractMultiplier float64 `yaml:"contract_multiplier"`
	LotMin             float64 `yaml:"lot_min"`
	LotStep            float64 `yaml:"lot_step"`
	LotMax             float64 `yaml:"lot_max"`
}

// Strategy groups the statistical thresholds for entries and exits.
type Strategy struct {
	Lookback        int     `yaml:"lookback"`
	TrendWindow     int     `yaml:"trend_window"`
	TrendThreshold  float64 `yaml:"trend_threshold"`
	ATRPeriod       int     `yaml:"atr_period"`
	EntryZ          float64 `yaml:"entry_z"`
	ExitZ           float64 `yaml:"exit_z"`
	StopZ           float64 `yaml:"stop_z"`
	StopATRMult     float64 `yaml:"stop_atr_mult"`
	MinStopDistance float64 `yaml:"min_stop_distance"`
	MaxHoldHours    int     `yaml:"max_hold_hours"`
}

// Risk encodes guard-rails for how much size the engine may take on.
type Risk struct {
	RiskFraction        float64 `yaml:"risk_fraction"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
}

// Session configures the pre-weekend close guard window (UTC).
type Session struct {
	CloseWeekday int `yaml:"close_weekday"` // time.Weekday numbering, Friday = 5
	CloseHourUTC int `yaml:"close_hour_utc"`
}

// Engine holds the scheduler and audit settings.
type Engine struct {
	Tag                string `yaml:"tag"`
	PollIntervalSecs   int    `yaml:"poll_interval_secs"`
	ReconnectDelaySecs int    `yaml:"reconnect_delay_secs"`
	AuditPath          string `yaml:"audit_path"`
}

// Bridge points at the broker sidecar.
type Bridge struct {
	URL string `yaml:"url"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Instrument Instrument `yaml:"instrument"`
	Strategy   Strategy   `yaml:"strategy"`
	Risk       Risk       `yaml:"risk"`
	Session    Session    `yaml:"session"`
	Engine     Engine     `yaml:"engine"`
	Bridge     Bridge     `yaml:"bridge"`
}

// PollInterval returns the cycle cadence as a duration.
func (e Engine) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSecs) * time.Second
}

// ReconnectDelay returns the fixed retry delay as a duration.
func (e Engine) ReconnectDelay() time.Duration {
	return time.Duration(e.ReconnectDelaySecs) * time.Second
}

// MaxHold returns the maximum holding duration.
func (s Strategy) MaxHold() time.Duration {
	return time.Duration(s.MaxHoldHours) * time.Hour
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Instrument.Symbol == "":
		return fmt.Errorf("config: instrument.symbol is required")
	case c.Strategy.Lookback < 2:
		return fmt.Errorf("config: strategy.lookback must be at least 2")
	case c.Strategy.ATRPeriod < 1:
		return fmt.Errorf("config: strategy.atr_period must be at least 1")
	case c.Strategy.EntryZ <= c.Strategy.ExitZ:
		return fmt.Errorf("config: entry_z must exceed exit_z")
	case c.Strategy.StopZ <= c.Strategy.EntryZ:
		return fmt.Errorf("config: stop_z must exceed entry_z")
	case c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction >= 1:
		return fmt.Errorf("config: risk_fraction must be in (0, 1)")
	case c.Session.CloseWeekday < 0 || c.Session.CloseWeekday > 6:
		return fmt.Errorf("config: session.close_weekday must be in 0..6")
	case c.Session.CloseHourUTC < 0 || c.Session.CloseHourUTC > 23:
		return fmt.Errorf("config: session.close_hour_utc must be in 0..23")
	case c.Engine.Tag == "":
		return fmt.Errorf("config: engine.tag is required")
	case c.Engine.PollIntervalSecs <= 0:
		return fmt.Errorf("config: engine.poll_interval_secs must be positive")
	}
	return nil
}
