// Package metrics defines Prometheus metrics for the email service, covering
// confirmation outcomes, mail delivery, the RPC worker pool and the status
// event producer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Confirmation outcomes.
const (
	OutcomeSent           = "sent"
	OutcomeRenderFailed   = "render_failed"
	OutcomeDispatchFailed = "dispatch_failed"
)

var (
	ConfirmationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emailservice_confirmations_total",
		Help: "Total number of order confirmation requests grouped by outcome",
	}, []string{"outcome"})

	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emailservice_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	// Stage is the mail session step that failed (dial, auth, envelope, ...).
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emailservice_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host", "stage"})
	MailSendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emailservice_mail_send_duration_seconds",
		Help:    "Duration of mail sessions in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})

	WorkersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emailservice_workers_busy",
		Help: "Number of RPC handlers currently holding a worker slot",
	})
	WorkerRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emailservice_worker_rejected_total",
		Help: "Total number of RPCs abandoned while waiting for a worker slot",
	})

	StatusProducerReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emailservice_status_producer_ready",
		Help: "1 when the Kafka status producer reached the brokers on its last metadata refresh or publish",
	})
	StatusEventsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emailservice_status_events_skipped_total",
		Help: "Total number of status events dropped because the producer was not ready",
	})
)

func init() {
	prometheus.MustRegister(ConfirmationsTotal)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailSendDuration)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(WorkerRejected)
	prometheus.MustRegister(StatusProducerReady)
	prometheus.MustRegister(StatusEventsSkipped)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
