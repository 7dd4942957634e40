package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label values
const (
	pathTask = "task"
	pathISR  = "isr"

	resultOK     = "ok"
	resultFailed = "failed"

	jobDone     = "done"
	jobRejected = "rejected"
	jobPanicked = "panicked"
)

type collectors struct {
	actorsLive    *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	dataSends     *prometheus.CounterVec
	dataBytes     prometheus.Counter
	jobs          *prometheus.CounterVec
}

var metrics = newCollectors()

func newCollectors() *collectors {
	return &collectors{
		actorsLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wtask",
			Name:      "actors_live",
			Help:      "Number of actors registered in a directory, by type.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wtask",
			Name:      "notifications_total",
			Help:      "Notifications sent, by send path and result.",
		}, []string{"path", "result"}),
		dataSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wtask",
			Name:      "data_sends_total",
			Help:      "Ring buffer payload sends, by result.",
		}, []string{"result"}),
		dataBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wtask",
			Name:      "data_bytes_total",
			Help:      "Payload bytes pushed into ring buffers.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wtask",
			Name:      "jobs_total",
			Help:      "Work queue iterations, by outcome.",
		}, []string{"result"}),
	}
}

// RegisterMetrics registers the framework collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		metrics.actorsLive,
		metrics.notifications,
		metrics.dataSends,
		metrics.dataBytes,
		metrics.jobs,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func resultLabel(err error) string {
	if err != nil {
		return resultFailed
	}
	return resultOK
}
