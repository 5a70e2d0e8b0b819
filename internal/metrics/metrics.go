// Package metrics exposes publication engine counters in OpenMetrics text
// format.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Collector aggregates counters across all sessions of one process. It has
// its own lock because sessions record into it from their own run loops.
type Collector struct {
	mu sync.RWMutex

	sessionsStarted uint64
	sessionsStopped uint64

	// Outbound client channel events by kind (added, changed, removed).
	eventsForwarded  map[string]uint64
	eventsSuppressed map[string]uint64
}

func NewCollector() *Collector {
	return &Collector{
		eventsForwarded:  make(map[string]uint64),
		eventsSuppressed: make(map[string]uint64),
	}
}

func (c *Collector) RecordSessionStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsStarted++
}

func (c *Collector) RecordSessionStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsStopped++
}

// RecordForwarded counts an event sent to a client channel.
func (c *Collector) RecordForwarded(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsForwarded[kind]++
}

// RecordSuppressed counts an event the diff layer swallowed.
func (c *Collector) RecordSuppressed(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsSuppressed[kind]++
}

func (c *Collector) Forwarded(kind string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventsForwarded[kind]
}

func (c *Collector) Suppressed(kind string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventsSuppressed[kind]
}

func (c *Collector) ActiveSessions() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionsStarted - c.sessionsStopped
}

// Export renders all counters in OpenMetrics text format.
func (c *Collector) Export() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder

	sb.WriteString("# HELP bunpub_sessions_total Subscription sessions started.\n")
	sb.WriteString("# TYPE bunpub_sessions_total counter\n")
	fmt.Fprintf(&sb, "bunpub_sessions_total %d\n", c.sessionsStarted)

	sb.WriteString("# HELP bunpub_sessions_active Subscription sessions currently running.\n")
	sb.WriteString("# TYPE bunpub_sessions_active gauge\n")
	fmt.Fprintf(&sb, "bunpub_sessions_active %d\n", c.sessionsStarted-c.sessionsStopped)

	sb.WriteString("# HELP bunpub_events_forwarded_total Events forwarded to client channels.\n")
	sb.WriteString("# TYPE bunpub_events_forwarded_total counter\n")
	writeKindCounters(&sb, "bunpub_events_forwarded_total", c.eventsForwarded)

	sb.WriteString("# HELP bunpub_events_suppressed_total Events suppressed by the diff layer.\n")
	sb.WriteString("# TYPE bunpub_events_suppressed_total counter\n")
	writeKindCounters(&sb, "bunpub_events_suppressed_total", c.eventsSuppressed)

	return sb.String()
}

func writeKindCounters(sb *strings.Builder, name string, counts map[string]uint64) {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(sb, "%s{kind=\"%s\"} %d\n", name, k, counts[k])
	}
}
