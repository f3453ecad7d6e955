package metrics

import (
	"errors"
	"net/http"

	"nova-battle-service/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nova_battle"

// Recorder exports battle service counters to Prometheus.
type Recorder struct {
	created  prometheus.Counter
	joined   prometheus.Counter
	finished prometheus.Counter
	accuracy prometheus.Histogram
	rejected *prometheus.CounterVec
}

// NewRecorder registers the battle metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_created_total",
			Help:      "Battles created.",
		}),
		joined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_joined_total",
			Help:      "Players added to a battle roster.",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_finished_total",
			Help:      "Battles moved to finished.",
		}),
		accuracy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_accuracy_percent",
			Help:      "Accuracy of evaluated submissions.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Operations rejected, by operation and reason.",
		}, []string{"op", "reason"}),
	}
	reg.MustRegister(r.created, r.joined, r.finished, r.accuracy, r.rejected)
	return r
}

func (r *Recorder) BattleCreated() { r.created.Inc() }
func (r *Recorder) PlayerJoined() { r.joined.Inc() }
func (r *Recorder) BattleFinished() { r.finished.Inc() }

func (r *Recorder) Evaluated(accuracy float64) {
	r.accuracy.Observe(accuracy)
}

func (r *Recorder) Rejected(op string, err error) {
	r.rejected.WithLabelValues(op, Reason(err)).Inc()
}

// Reason maps an error to a low-cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrQuestionPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, domain.ErrBattleNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyFinished):
		return "finished"
	case errors.Is(err, domain.ErrBattleExpired):
		return "expired"
	case errors.Is(err, domain.ErrBattleCodeTaken):
		return "code_taken"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
