// Package metrics exposes a small in-memory counter set for the transport's
// status endpoint.
package metrics

import "sync/atomic"

// Metrics counts pipeline outcomes since process start.
type Metrics struct {
	received   atomic.Int64
	published  atomic.Int64
	duplicates atomic.Int64
	malformed  atomic.Int64
	ignored    atomic.Int64
	rejected   atomic.Int64
	sent       atomic.Int64
	sendFailed atomic.Int64
}

// New returns a zeroed counter set.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncReceived()   { m.received.Add(1) }
func (m *Metrics) IncPublished()  { m.published.Add(1) }
func (m *Metrics) IncDuplicate()  { m.duplicates.Add(1) }
func (m *Metrics) IncMalformed()  { m.malformed.Add(1) }
func (m *Metrics) IncIgnored()    { m.ignored.Add(1) }
func (m *Metrics) IncRejected()   { m.rejected.Add(1) }
func (m *Metrics) IncSent()       { m.sent.Add(1) }
func (m *Metrics) IncSendFailed() { m.sendFailed.Add(1) }

// Snapshot returns the current counter values for status reporting.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"received":    m.received.Load(),
		"published":   m.published.Load(),
		"duplicates":  m.duplicates.Load(),
		"malformed":   m.malformed.Load(),
		"ignored":     m.ignored.Load(),
		"rejected":    m.rejected.Load(),
		"sent":        m.sent.Load(),
		"send_failed": m.sendFailed.Load(),
	}
}
