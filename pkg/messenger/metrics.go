package messenger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_messages_stored_total",
			Help: "Total number of inbound messages stored, by opcode",
		}, []string{"opcode"})
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_operations_total",
			Help: "Total number of engine operations, by operation and result",
		}, []string{"operation", "result"})
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_invocations_total",
			Help: "Total number of signed invocations, by result",
		}, []string{"result"})
	outboundNonce = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_outbound_nonce",
			Help: "Next nonce used for an outbound portal transfer",
		})
	txnCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_txn_count",
			Help: "Number of inbound messages accepted",
		})
	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		})
)

// observe records the outcome of an operation.
func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if e, ok := AsError(err); ok {
			result = e.Name
		}
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
