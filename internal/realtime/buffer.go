package realtime

import "sync"

type segment struct {
	data  []byte
	durMS int64
}

// SegmentBuffer accumulates raw audio per participant until enough has
// arrived for a useful transcription pass. Buffers for different keys are
// independent; the map mutex is held only for the append/cut itself.
type SegmentBuffer struct {
	minMS int64
	maxMS int64

	mu       sync.Mutex
	segments map[string]*segment
}

// NewSegmentBuffer builds a buffer with the given duration thresholds in
// milliseconds. Zero or negative values fall back to 500/5000.
func NewSegmentBuffer(minMS, maxMS int64) *SegmentBuffer {
	if minMS <= 0 {
		minMS = 500
	}
	if maxMS < minMS {
		maxMS = 5000
	}
	return &SegmentBuffer{
		minMS:    minMS,
		maxMS:    maxMS,
		segments: make(map[string]*segment),
	}
}

// AddChunk appends a chunk to the key's buffer. When the accumulated
// duration reaches the minimum threshold the whole segment is returned and
// the buffer resets; otherwise nil. Oversized bursts are cut down to the
// most recent maxMS worth of bytes before returning: recency beats
// completeness for live subtitles.
func (b *SegmentBuffer) AddChunk(key string, data []byte, durMS int64) []byte {
	if len(data) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seg, ok := b.segments[key]
	if !ok {
		seg = &segment{}
		b.segments[key] = seg
	}

	seg.data = append(seg.data, data...)
	seg.durMS += durMS

	if seg.durMS < b.minMS {
		return nil
	}

	out := seg.data
	if seg.durMS > b.maxMS {
		// keep the tail, proportionally to the byte/duration ratio
		keep := int(int64(len(out)) * b.maxMS / seg.durMS)
		if keep < 1 {
			keep = 1
		}
		out = out[len(out)-keep:]
	}

	b.segments[key] = &segment{}
	return out
}

// Flush returns whatever is buffered for the key, regardless of duration,
// and resets it. Returns nil when the buffer is empty.
func (b *SegmentBuffer) Flush(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	seg, ok := b.segments[key]
	if !ok || len(seg.data) == 0 {
		return nil
	}
	out := seg.data
	b.segments[key] = &segment{}
	return out
}

// Clear drops the key's buffered audio.
func (b *SegmentBuffer) Clear(key string) {
	b.mu.Lock()
	delete(b.segments, key)
	b.mu.Unlock()
}

// ClearAll drops every buffer. Used on shutdown.
func (b *SegmentBuffer) ClearAll() {
	b.mu.Lock()
	b.segments = make(map[string]*segment)
	b.mu.Unlock()
}
