package lock

import (
	"context"
	"time"

	"github.com/cadecode/dlock/v1/metrics"
	"github.com/cadecode/dlock/v1/store"
)

// renewer keeps a TTL key alive while the lock is logically held. It refreshes
// the expiry at two thirds of the lease time with a conditional set that only
// succeeds while the key still exists, so it never resurrects a lost lock.
//
// The renewer never touches the holder's state. When a refresh finds the key
// gone it closes lost and exits; the owning goroutine observes lost on its
// next operation. stop waits for the goroutine to fully exit, so after stop
// returns no refresh can race the key deletion that follows it.
type renewer struct {
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
}

func startRenewer(st store.TTLStore, key, token string, ttl time.Duration, log Logger) *renewer {
	ctx, cancel := context.WithCancel(context.Background())
	r := &renewer{cancel: cancel, done: make(chan struct{}), lost: make(chan struct{})}
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(ttl * 2 / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ok, err := st.SetIfPresent(ctx, key, token, ttl)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// Transient store failure: the key survives one
					// missed refresh, so retry on the next tick.
					log.Warn(ctx, "lease refresh of %q failed: %v", key, err)
					continue
				}
				if !ok {
					metrics.LeaseLostCounter.Inc()
					log.Error(ctx, "lease of %q lost", key)
					close(r.lost)
					return
				}
				metrics.RenewalCounter.Inc()
				log.Debug(ctx, "lease of %q renewed", key)
			case <-ctx.Done():
				return
			}
		}
	}()
	return r
}

// stop cancels the renewal loop and waits until it has exited.
func (r *renewer) stop() {
	r.cancel()
	<-r.done
}
