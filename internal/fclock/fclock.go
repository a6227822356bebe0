// ABOUTME: Frame-pacing clock tracking how far a consumer runs ahead of real time
// ABOUTME: Signed frame counter plus an elapsed-time remainder, no drift
package fclock

import "time"

// Clock counts how many output frames its owner is currently ahead of
// real time. Update credits produced frames and debits elapsed wall
// time; SleepIf blocks while the owner is too far ahead. The counter
// is signed, so a stalled owner simply goes negative and catches up
// without sleeping.
//
// Clock is not safe for concurrent use.
type Clock struct {
	last      time.Time
	frameDur  time.Duration // duration of one frame
	remainder time.Duration // elapsed time not yet worth a whole frame
	frames    int64         // frames ahead of real time
	now       func() time.Time
	sleep     func(time.Duration)
}

// New creates a clock for the given output frame rate. The clock
// starts at zero frames from the moment of the call.
func New(frameRate int) *Clock {
	c := &Clock{
		frameDur: time.Duration(int64(time.Second) / int64(frameRate)),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	c.last = c.now()
	return c
}

func (c *Clock) elapsed() time.Duration {
	now := c.now()
	d := now.Sub(c.last)
	c.last = now
	return d
}

// Reset returns the clock to zero frames as of the current instant.
func (c *Clock) Reset() {
	c.remainder = 0
	c.frames = 0
	c.elapsed()
}

// Frames returns the current frames-ahead count without updating it.
func (c *Clock) Frames() int64 {
	return c.frames
}

// Update credits n produced frames and debits the wall time elapsed
// since the previous update, keeping the sub-frame remainder.
func (c *Clock) Update(n int64) {
	elapsed := c.elapsed() + c.remainder
	elapsedFrames := int64(elapsed / c.frameDur)
	c.remainder = elapsed % c.frameDur
	c.frames += n - elapsedFrames
}

// WouldSleepUntil returns the instant the clock would sleep until to
// get back in sync, assuming n more frames were credited first.
func (c *Clock) WouldSleepUntil(n int64) time.Time {
	until := c.now()
	if frames := c.frames + n; frames > 0 {
		until = until.Add(c.frameDur * time.Duration(frames))
	}
	return until
}

// SleepIf sleeps while the owner is at least threshold frames ahead of
// real time. Sleeping down to threshold/2 rather than zero keeps the
// owner slightly ahead so it does not immediately stall.
func (c *Clock) SleepIf(threshold int64) {
	for c.frames >= threshold {
		c.sleep(c.frameDur * time.Duration(c.frames-threshold/2))
		c.Update(0)
	}
}
