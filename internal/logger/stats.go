package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stats holds cumulative persistence statistics. Write latencies feed a
// DDSketch so quantiles stay cheap regardless of record volume.
type Stats struct {
	RecordsSaved atomic.Int64
	BytesWritten atomic.Int64
	SaveErrors   atomic.Int64

	sketchMu sync.Mutex
	sketch   *ddsketch.DDSketch
}

// latencyAccuracy is the DDSketch relative accuracy for save latencies.
const latencyAccuracy = 0.01

func (s *Stats) observeSave(frameBytes int, elapsed time.Duration) {
	s.RecordsSaved.Add(1)
	s.BytesWritten.Add(int64(frameBytes))

	s.sketchMu.Lock()
	defer s.sketchMu.Unlock()
	if s.sketch == nil {
		sketch, err := ddsketch.NewDefaultDDSketch(latencyAccuracy)
		if err != nil {
			return
		}
		s.sketch = sketch
	}
	// DDSketch rejects non-positive values; clamp sub-microsecond writes.
	us := float64(elapsed.Microseconds())
	if us < 1 {
		us = 1
	}
	s.sketch.Add(us)
}

// Snapshot is a point-in-time view of the statistics.
type Snapshot struct {
	RecordsSaved int64
	BytesWritten int64
	SaveErrors   int64

	// Save latency quantiles in microseconds. Zero when no record has
	// been saved yet.
	SaveLatencyP50US float64
	SaveLatencyP95US float64
	SaveLatencyP99US float64
}

// Stats returns a snapshot of the instance statistics.
func (d *DataLogger) Stats() Snapshot {
	snap := Snapshot{
		RecordsSaved: d.stats.RecordsSaved.Load(),
		BytesWritten: d.stats.BytesWritten.Load(),
		SaveErrors:   d.stats.SaveErrors.Load(),
	}

	d.stats.sketchMu.Lock()
	defer d.stats.sketchMu.Unlock()
	if d.stats.sketch != nil && d.stats.sketch.GetCount() > 0 {
		if v, err := d.stats.sketch.GetValueAtQuantile(0.50); err == nil {
			snap.SaveLatencyP50US = v
		}
		if v, err := d.stats.sketch.GetValueAtQuantile(0.95); err == nil {
			snap.SaveLatencyP95US = v
		}
		if v, err := d.stats.sketch.GetValueAtQuantile(0.99); err == nil {
			snap.SaveLatencyP99US = v
		}
	}
	return snap
}
