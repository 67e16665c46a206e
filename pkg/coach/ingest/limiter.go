package ingest

import (
	"time"

	"golang.org/x/time/rate"
)

// AudioLimiter budgets inbound audio by frame count and by byte volume. A nil limiter
// allows everything. Each live connection owns one.
type AudioLimiter struct {
	now    func() time.Time
	frames *rate.Limiter
	bytes  *rate.Limiter
}

// NewAudioLimiter allows fps frames and bps bytes per second, each with burstSeconds
// of headroom. A non-positive rate disables that budget; it returns nil when both are
// disabled.
func NewAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *AudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	burst := max(1, burstSeconds)
	l := &AudioLimiter{now: now}
	if fps > 0 {
		l.frames = rate.NewLimiter(rate.Limit(fps), fps*burst)
	}
	if bps > 0 {
		l.bytes = rate.NewLimiter(rate.Limit(bps), int(bps)*burst)
	}
	return l
}

// Allow charges one frame of frameBytes against both budgets, or neither.
func (l *AudioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	now := l.now()

	frame, ok := reserveNow(l.frames, now, 1)
	if !ok {
		return false
	}
	if _, ok := reserveNow(l.bytes, now, max(0, frameBytes)); !ok {
		if frame != nil {
			frame.CancelAt(now)
		}
		return false
	}
	return true
}

// reserveNow takes n tokens from lim if they are available at now. A nil limiter or a
// zero n always succeeds without a reservation.
func reserveNow(lim *rate.Limiter, now time.Time, n int) (*rate.Reservation, bool) {
	if lim == nil || n == 0 {
		return nil, true
	}
	r := lim.ReserveN(now, n)
	if !r.OK() {
		return nil, false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, false
	}
	return r, true
}
