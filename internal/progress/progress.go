// Package progress computes rates, percentages and ETAs for the streaming
// phases and formats them for log output.
package progress

import (
	"fmt"
	"time"
)

// Tracker measures one pass over an input of known size
type Tracker struct {
	totalBytes int64
	start      time.Time
	now        func() time.Time
}

// NewTracker starts tracking a pass over totalBytes of input. A total of 0
// means the size is unknown and no percentage or ETA is reported.
func NewTracker(totalBytes int64) *Tracker {
	return &Tracker{totalBytes: totalBytes, start: time.Now(), now: time.Now}
}

// Snapshot is the state of a pass at one point in time
type Snapshot struct {
	Count      int64
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Rate       float64 // entities per second
}

// Snapshot returns the progress after count entities and scanned bytes
func (t *Tracker) Snapshot(count, scanned int64) Snapshot {
	elapsed := t.now().Sub(t.start)
	s := Snapshot{Count: count, Elapsed: elapsed.Round(time.Second)}

	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(count) / secs

		if t.totalBytes > 0 && scanned > 0 {
			s.Percentage = float64(scanned) / float64(t.totalBytes) * 100
			if s.Percentage < 100 {
				bytesPerSec := float64(scanned) / secs
				remaining := float64(t.totalBytes - scanned)
				s.ETA = time.Duration(remaining / bytesPerSec * float64(time.Second)).Round(time.Second)
			} else {
				s.Percentage = 100
			}
		}
	}
	return s
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatRate formats a rate as entities per second with a K or M suffix
func FormatRate(perSec float64) string {
	switch {
	case perSec >= 1_000_000:
		return fmt.Sprintf("%.1fM/s", perSec/1_000_000)
	case perSec >= 1_000:
		return fmt.Sprintf("%.1fK/s", perSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", perSec)
}

// FormatBytes formats a byte count with a binary unit
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTP"[exp])
}
