package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/charswap/internal/comfy"
)

// watchEvents drains the event stream and closes the returned channel once a
// message reports that promptID finished or failed. A nil or broken stream
// never signals; polling still decides completion.
func watchEvents(ctx context.Context, events <-chan comfy.Event, promptID string) <-chan struct{} {
	done := make(chan struct{})
	if events == nil {
		return done
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.PromptID == promptID && (ev.Finished || ev.Failed) {
					close(done)
					// Keep draining so the stream reader never blocks.
					for range events {
					}
					return
				}
			}
		}
	}()
	return done
}

// track polls the job history until the job lists outputs, reports an
// execution error, or the tracking timeout elapses. An event signal triggers
// an immediate poll.
func (c *Client) track(ctx context.Context, promptID string, signal <-chan struct{}, log *slog.Logger) (comfy.HistoryEntry, error) {
	started := c.now()
	tctx, cancel := context.WithTimeout(ctx, c.trackingTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		entry, found, err := c.api.History(tctx, promptID)
		switch {
		case err != nil:
			if tctx.Err() == nil {
				log.Debug("history poll failed", slog.String("error", err.Error()))
			}
		case found && entry.Failed():
			return comfy.HistoryEntry{}, fmt.Errorf("%w: %w: job %s", ErrTrackingTimeout, ErrExecutionFailed, promptID)
		case found && entry.HasOutputs():
			log.Debug("job completed", slog.Duration("elapsed", c.now().Sub(started)))
			return entry, nil
		}

		select {
		case <-tctx.Done():
			if err := ctx.Err(); err != nil {
				return comfy.HistoryEntry{}, fmt.Errorf("%w: %w", ErrTrackingTimeout, err)
			}
			return comfy.HistoryEntry{}, fmt.Errorf("%w: job %s not finished after %s", ErrTrackingTimeout, promptID, c.trackingTimeout)
		case <-ticker.C:
		case <-signal:
			log.Debug("completion event received")
			// Poll now; afterwards fall back to the ticker.
			signal = nil
		}
	}
}
