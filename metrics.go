package tokenledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tokenledger"

// Metrics counts the externally interesting ledger events. All counters are
// registered on the Registerer handed to New; a nil Registerer produces
// working but unregistered counters.
type Metrics struct {
	Registrations   prometheus.Counter
	Unregistrations prometheus.Counter
	Transfers       prometheus.Counter
	TransferCalls   prometheus.Counter
	Mints           prometheus.Counter
	Refunds         prometheus.Counter
	Burns           prometheus.Counter
	Rollbacks       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Registrations:   counter("registrations_total", "Accounts registered."),
		Unregistrations: counter("unregistrations_total", "Accounts unregistered."),
		Transfers:       counter("transfers_total", "Direct fungible transfers executed."),
		TransferCalls:   counter("transfer_calls_total", "Transfer-and-notify chains initiated, fungible and non-fungible."),
		Mints:           counter("mints_total", "Tokens minted."),
		Refunds:         counter("resolution_refunds_total", "Resolutions that re-credited an unused amount to the sender."),
		Burns:           counter("burns_total", "Supply burns: unused amounts of unregistered senders and forcibly dropped balances."),
		Rollbacks:       counter("token_declines_total", "Token transfer-and-notify chains the receiver declined."),
	}
}
