package httpremux

import (
	"fmt"
	"sync"
	"time"

	"github.com/ringcast/mediacore/pkg/stream"
)

// defaultCacheWindow is the trailing window a BufferCache keeps when
// fast_cache is enabled, per spec.md §4.9 ("a bounded window (default 3s
// when fast_cache>0, else disabled)"). The fast_cache value only toggles
// caching on; the window length itself is fixed.
const defaultCacheWindow = 3 * time.Second

type cachedFrame struct {
	frame    *stream.Frame
	received time.Time
}

// BufferCache sits between a live stream.Source and the set of HTTP
// viewers mounted on it: it attaches to the source as a single consumer,
// keeps a trailing window of frames, and replays that window (plus
// cached sequence headers/metadata) to each newly attached viewer
// instead of every viewer replaying the source's own GOP cache
// independently. This is what lets mount.go hand off a fresh HTTP
// connection mid-stream without re-touching the source's consumer map
// on every viewer connect/disconnect.
type BufferCache struct {
	source *stream.Source
	consID string
	window time.Duration

	mu             sync.Mutex
	alive          bool
	metadata       []byte
	videoSeqHeader *stream.Frame
	audioSeqHeader *stream.Frame
	frames         []cachedFrame
	viewers        map[string]stream.Consumer
}

// NewBufferCache attaches a cache to source. If window <= 0, caching is
// disabled: the cache still fans frames through to viewers live, but
// keeps no trailing window, so a viewer attaching after startup misses
// whatever aired before it connected (beyond the source's own GOP cache,
// which Attach still replays once up front).
func NewBufferCache(source *stream.Source, consumerID string, window time.Duration) (*BufferCache, error) {
	c := &BufferCache{
		source:  source,
		consID:  consumerID,
		window:  window,
		alive:   true,
		viewers: make(map[string]stream.Consumer),
	}
	if err := source.Attach(consumerID, c); err != nil {
		return nil, fmt.Errorf("httpremux: buffer cache attach: %w", err)
	}
	return c, nil
}

// Alive reports whether the cache is still attached to its source; it
// goes false once Stop is called, mirroring the coroutine pull()-success
// liveness check described in spec.md §4.9.
func (c *BufferCache) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Stop detaches the cache from its source and releases its viewers. Stop
// is idempotent: calling it twice is a no-op the second time.
func (c *BufferCache) Stop() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	c.viewers = nil
	c.mu.Unlock()

	c.source.Detach(c.consID)
}

// DeliverMetadata implements stream.Consumer: it caches data and fans it
// out to every attached viewer.
func (c *BufferCache) DeliverMetadata(data []byte) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil
	}
	c.metadata = data
	viewers := c.snapshotViewersLocked()
	c.mu.Unlock()

	for _, v := range viewers {
		_ = v.DeliverMetadata(data)
	}
	return nil
}

// DeliverFrame implements stream.Consumer: it appends f to the trailing
// window (when caching is enabled), trims frames that have aged out, and
// fans f out live to every attached viewer.
func (c *BufferCache) DeliverFrame(f *stream.Frame) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil
	}

	if f.IsSequenceHeader {
		switch f.Kind {
		case stream.FrameVideo:
			c.videoSeqHeader = f
		case stream.FrameAudio:
			c.audioSeqHeader = f
		}
	}

	if c.window > 0 {
		now := time.Now()
		c.frames = append(c.frames, cachedFrame{frame: f, received: now})
		cutoff := now.Add(-c.window)
		trimFrom := 0
		for trimFrom < len(c.frames) && c.frames[trimFrom].received.Before(cutoff) {
			trimFrom++
		}
		if trimFrom > 0 {
			c.frames = append([]cachedFrame(nil), c.frames[trimFrom:]...)
		}
	}

	viewers := c.snapshotViewersLocked()
	c.mu.Unlock()

	for _, v := range viewers {
		_ = v.DeliverFrame(f)
	}
	return nil
}

func (c *BufferCache) snapshotViewersLocked() map[string]stream.Consumer {
	out := make(map[string]stream.Consumer, len(c.viewers))
	for id, v := range c.viewers {
		out[id] = v
	}
	return out
}

// AttachViewer replays cached metadata, sequence headers, and the
// trailing window to v, then registers it for live delivery.
func (c *BufferCache) AttachViewer(id string, v stream.Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return fmt.Errorf("httpremux: buffer cache is stopped")
	}
	if _, exists := c.viewers[id]; exists {
		return fmt.Errorf("httpremux: viewer %q already attached", id)
	}

	if c.metadata != nil {
		if err := v.DeliverMetadata(c.metadata); err != nil {
			return fmt.Errorf("replay metadata: %w", err)
		}
	}
	if c.videoSeqHeader != nil {
		if err := v.DeliverFrame(c.videoSeqHeader); err != nil {
			return fmt.Errorf("replay video sequence header: %w", err)
		}
	}
	if c.audioSeqHeader != nil {
		if err := v.DeliverFrame(c.audioSeqHeader); err != nil {
			return fmt.Errorf("replay audio sequence header: %w", err)
		}
	}
	for _, cf := range c.frames {
		if err := v.DeliverFrame(cf.frame); err != nil {
			return fmt.Errorf("replay cached window: %w", err)
		}
	}

	c.viewers[id] = v
	return nil
}

// DetachViewer removes a viewer; it no longer receives live frames.
func (c *BufferCache) DetachViewer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewers != nil {
		delete(c.viewers, id)
	}
}
