package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pesatalk_transactions_created_total",
		Help: "Transactions accepted into the pending confirmation state",
	})

	transactionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesatalk_transactions_finished_total",
		Help: "Transactions that reached a terminal state, by status",
	}, []string{"status"})

	stkPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesatalk_stk_pushes_total",
		Help: "STK push attempts by outcome",
	}, []string{"outcome"})

	callbacksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesatalk_callbacks_total",
		Help: "Gateway callbacks by result",
	}, []string{"result"})

	duplicatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pesatalk_duplicate_requests_total",
		Help: "Create requests rejected by the idempotency guard",
	})

	stkPushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pesatalk_stk_push_duration_seconds",
		Help:    "Wall time of gateway push calls, retries included",
		Buckets: prometheus.DefBuckets,
	})
)
