package metrics

import (
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder implementa ports.MetricsRecorder sobre un registry propio, así
// cada instancia (y cada test) tiene sus contadores aislados.
type Recorder struct {
	registry *prometheus.Registry

	cyclesAdmitted prometheus.Counter
	cyclesActive   prometheus.Gauge
	permitWait     prometheus.Histogram
	placements     *prometheus.CounterVec
	aborts         prometheus.Counter
	settlements    *prometheus.CounterVec
	balance        prometheus.Gauge
}

var _ ports.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registra los collectors del engine más los de Go y proceso.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cyclesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wagerbot_cycles_admitted_total",
			Help: "ciclos admitidos por el admission controller",
		}),
		cyclesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wagerbot_cycles_active",
			Help: "ciclos que ocupan un slot ahora mismo",
		}),
		permitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wagerbot_provider_permit_wait_seconds",
			Help:    "espera hasta obtener el permiso del proveedor",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wagerbot_placement_responses_total",
			Help: "respuestas de colocación por código y disposición",
		}, []string{"code", "disposition"}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wagerbot_batches_aborted_total",
			Help: "lotes abortados por una respuesta crítica",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wagerbot_settlements_total",
			Help: "apuestas liquidadas por resultado",
		}, []string{"outcome"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wagerbot_balance",
			Help: "saldo actual del ledger",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cyclesAdmitted, r.cyclesActive, r.permitWait, r.placements,
		r.aborts, r.settlements, r.balance,
	)
	return r
}

// Registry expone el registry para el servidor HTTP y los tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) CycleAdmitted() {
	r.cyclesAdmitted.Inc()
	r.cyclesActive.Inc()
}

func (r *Recorder) CycleReleased() { r.cyclesActive.Dec() }

func (r *Recorder) ProviderPermitWait(d time.Duration) { r.permitWait.Observe(d.Seconds()) }

func (r *Recorder) PlacementResponse(code domain.StatusCode, d domain.Disposition) {
	r.placements.WithLabelValues(string(code), d.String()).Inc()
}

func (r *Recorder) BatchAborted() { r.aborts.Inc() }

func (r *Recorder) Settled(outcome domain.Outcome) {
	r.settlements.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) Balance(current float64) { r.balance.Set(current) }
