package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

// Observe records val on o if o is non-nil.
func Observe(o Observer, val float64, labels ...string) {
	if o != nil {
		o.Observe(val, labels...)
	}
}

type Metrics struct {
	// EventCount counts inbound message events.
	EventCount Observer
	// DispatchCount counts dispatches by outcome.
	DispatchCount Observer
	// HandlerLatency observes command handler run time by command.
	HandlerLatency Observer
	// Denials counts middleware short-circuits by reason.
	Denials Observer
	// CacheLookups counts guild config cache reads by result.
	CacheLookups Observer
	// StoreLatency observes guild store round trips by operation.
	StoreLatency Observer
	// JobRuns counts recurring job ticks by job and outcome.
	JobRuns Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.EventCount,
		m.DispatchCount,
		m.HandlerLatency,
		m.Denials,
		m.CacheLookups,
		m.StoreLatency,
		m.JobRuns,
	}
}
