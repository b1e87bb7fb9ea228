package readiness

import (
	"context"
	"time"
)

// Watch polls p every opts.Interval (after opts.Delay) and sends its
// readiness on the returned channel. The first value is always false and
// afterwards only changes are sent. The channel is closed once ctx ends.
func Watch(ctx context.Context, p Probe, opts Options) <-chan bool {
	opts = opts.withDefaults()
	out := make(chan bool, 1)
	out <- false

	go func() {
		defer close(out)

		if opts.Delay > 0 {
			delay := time.NewTimer(opts.Delay)
			select {
			case <-delay.C:
			case <-ctx.Done():
				delay.Stop()
				return
			}
		}

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		last := false
		for {
			if ready := p.Check(ctx); ready != last && ctx.Err() == nil {
				last = ready
				select {
				case out <- ready:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
