// Package metrics exposes workflow and handler counters to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "therapy"

// Recorder implements usecase.Metrics and the handler's observer.
type Recorder struct {
	requestsCreated  *prometheus.CounterVec
	requestsDecided  *prometheus.CounterVec
	relationsChanged *prometheus.CounterVec
	routeDuration    *prometheus.HistogramVec
	routeErrors      *prometheus.CounterVec
}

// New registers the collectors with reg. Registering twice on the same
// registry fails.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		return nil, errors.New("metrics: registerer must not be nil")
	}
	r := &Recorder{
		requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Requests created, by kind.",
		}, []string{"kind"}),
		requestsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_decided_total",
			Help:      "Requests moved out of Pending, by kind and resulting status.",
		}, []string{"kind", "status"}),
		relationsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_rebuilt_total",
			Help:      "Relations added or removed by permission rebuilds.",
		}, []string{"change"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Handler latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
		routeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_errors_total",
			Help:      "Failed handler invocations by route and error code.",
		}, []string{"route", "error"}),
	}
	for _, c := range []prometheus.Collector{r.requestsCreated, r.requestsDecided, r.relationsChanged, r.routeDuration, r.routeErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) RequestCreated(kind string) {
	r.requestsCreated.WithLabelValues(kind).Inc()
}

func (r *Recorder) RequestDecided(kind, status string) {
	r.requestsDecided.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) RelationsRebuilt(added, removed int) {
	r.relationsChanged.WithLabelValues("added").Add(float64(added))
	r.relationsChanged.WithLabelValues("removed").Add(float64(removed))
}

// ObserveRoute records one handler invocation. errorCode is empty on success.
func (r *Recorder) ObserveRoute(route string, status int, errorCode string, elapsed time.Duration) {
	r.routeDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
	if errorCode != "" {
		r.routeErrors.WithLabelValues(route, errorCode).Inc()
	}
}
