package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors for one session. All methods are
// nil-safe so the engine can run without a registry.
type Metrics struct {
	polls         prometheus.Counter
	fetchErrors   prometheus.Counter
	recordsStored prometheus.Counter
	duplicates    prometheus.Counter
	parseFailures prometheus.Counter
	storageErrors prometheus.Counter
	rebootstraps  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "polls_total",
			Help:      "Completed poll round-trips",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "fetch_errors_total",
			Help:      "Failed poll round-trips",
		}),
		recordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "records_stored_total",
			Help:      "Chat records newly persisted",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "duplicate_records_total",
			Help:      "Records absorbed as duplicates of an existing id",
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "parse_failures_total",
			Help:      "Actions matching a known shape but missing required fields",
		}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "storage_errors_total",
			Help:      "Failed record inserts",
		}),
		rebootstraps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatscoop",
			Name:      "rebootstraps_total",
			Help:      "Auth-expiry recoveries",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.fetchErrors, m.recordsStored, m.duplicates,
			m.parseFailures, m.storageErrors, m.rebootstraps)
	}
	return m
}

func (m *Metrics) IncPolls() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) IncFetchErrors() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}

func (m *Metrics) IncRecordsStored() {
	if m == nil {
		return
	}
	m.recordsStored.Inc()
}

func (m *Metrics) IncDuplicates() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) IncParseFailures() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

func (m *Metrics) IncStorageErrors() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}

func (m *Metrics) IncRebootstraps() {
	if m == nil {
		return
	}
	m.rebootstraps.Inc()
}
