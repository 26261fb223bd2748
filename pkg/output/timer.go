// ABOUTME: Stream timer pacing the PCM stream against the wallclock
// ABOUTME: Tracks bytes delivered and computes the delay until the next chunk

package output

import "time"

// Timer is the monotonic reference for one Open/Close cycle. It tracks
// how much audio has been fed into the stream and how much wallclock time
// has passed, so the playback engine can be paced to real time.
//
// Timer is not safe for concurrent use; the Server accesses it under its
// own mutex.
type Timer struct {
	byteRate int
	start    time.Time
	sent     int64

	now func() time.Time
}

// NewTimer creates a timer for a stream of byteRate PCM bytes per second.
func NewTimer(byteRate int) *Timer {
	t := &Timer{
		byteRate: byteRate,
		now:      time.Now,
	}
	t.Reset()
	return t
}

// Reset restarts the wallclock reference and discards the byte count.
func (t *Timer) Reset() {
	t.start = t.now()
	t.sent = 0
}

// Add accounts n more PCM bytes fed into the stream.
func (t *Timer) Add(n int) {
	t.sent += int64(n)
}

// Position returns the nominal playback position: the duration covered by
// all bytes accounted so far.
func (t *Timer) Position() time.Duration {
	if t.byteRate == 0 {
		return 0
	}
	return time.Duration(t.sent) * time.Second / time.Duration(t.byteRate)
}

// Elapsed returns the wallclock time since the last Reset.
func (t *Timer) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Delay returns how long the producer should wait before feeding the next
// chunk: the lead of the nominal position over the wallclock, clamped at
// zero.
func (t *Timer) Delay() time.Duration {
	d := t.Position() - t.Elapsed()
	if d < 0 {
		return 0
	}
	return d
}
