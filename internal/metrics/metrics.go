package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_cycles_total", Help: "Decision cycles by result (ok, skipped)"},
		[]string{"result"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_events_total", Help: "Order outcomes by action and status"},
		[]string{"action", "status"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gateway_reconnects_total", Help: "Successful gateway reconnects"},
	)
	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "audit_write_failures_total", Help: "Audit log appends that failed"},
	)
	AccountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "account_equity", Help: "Last reported account equity"},
	)
	PositionSize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_position_lots", Help: "Size of the open position, 0 when flat"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, OrdersTotal, ReconnectsTotal, AuditWriteFailures, AccountEquity, PositionSize)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
