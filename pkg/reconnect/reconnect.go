// Package reconnect implements the reconnect controller: it retries a
// failed sink connection with exponential backoff and jitter, capped at a
// maximum wait, and gives up after a bounded number of attempts.
package reconnect

import (
	"context"
	"math/rand"
	"time"

	"github.com/voka-studio/mediaoutput/pkg/sink"
)

// Config parameterizes the backoff schedule.
type Config struct {
	Initial    time.Duration // delay before the first retry attempt
	Multiplier float64       // backoff growth per failed attempt, e.g. 1.5
	Max        time.Duration // delay never grows past this
	MaxRetries int           // 0 means retry forever
}

// Controller runs one reconnect attempt loop at a time. Rand and After are
// overridable for deterministic tests; both default to the real clock and
// RNG when left nil.
type Controller struct {
	cfg Config

	Rand  func() float64
	After func(time.Duration) <-chan time.Time

	// OnBackoff, if set, is called with the attempt index and the delay
	// about to be waited out, before each attempt.
	OnBackoff func(attempt int, delay time.Duration)
}

// New returns a Controller configured with cfg.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

func (c *Controller) randFloat() float64 {
	if c.Rand != nil {
		return c.Rand()
	}
	return rand.Float64()
}

func (c *Controller) afterFunc(d time.Duration) <-chan time.Time {
	if c.After != nil {
		return c.After(d)
	}
	return time.After(d)
}

// Run waits out the current backoff, invokes attempt, and on failure grows
// the backoff and tries again. It returns sink.Success once attempt
// succeeds, sink.Disconnected once MaxRetries is exhausted, or
// sink.Success if ctx is cancelled while waiting (a cancelled reconnect is
// not itself a failure - the caller is stopping the output some other way).
func (c *Controller) Run(ctx context.Context, attempt func(context.Context) error) sink.StopCode {
	delay := c.cfg.Initial

	for i := 0; c.cfg.MaxRetries <= 0 || i < c.cfg.MaxRetries; i++ {
		if c.OnBackoff != nil {
			c.OnBackoff(i, delay)
		}
		select {
		case <-ctx.Done():
			return sink.Success
		case <-c.afterFunc(delay):
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		err := attempt(attemptCtx)
		cancel()
		if err == nil {
			return sink.Success
		}

		delay = nextDelay(delay, c.cfg.Multiplier, c.cfg.Max, c.randFloat())
	}

	return sink.Disconnected
}

// nextDelay applies the configured multiplier plus up to 5% jitter, capped
// at max. jitter01 must be in [0,1); it is scaled to [0, 0.05) internally.
func nextDelay(cur time.Duration, multiplier float64, max time.Duration, jitter01 float64) time.Duration {
	factor := multiplier + jitter01*0.05
	next := time.Duration(float64(cur) * factor)
	if next > max {
		return max
	}
	return next
}
