package loop

import (
	"context"
	"time"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

// poller calls fn every interval until stopped. fn runs on the poller's own
// goroutine, so a slow call delays the next one instead of overlapping it.
type poller struct {
	name     string
	interval time.Duration
	cancel   context.CancelFunc
}

func startPoller(parent context.Context, name string, interval time.Duration, fn func()) *poller {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}()
	return &poller{name: name, interval: interval, cancel: cancel}
}

// stop never waits for an in-flight fn: a tick may stop its own poller.
func (p *poller) stop() {
	if p != nil {
		p.cancel()
	}
}

// syncPoller makes p match the wanted state, restarting it when the
// interval changed.
func syncPoller(p *poller, want bool, parent context.Context, name string, interval time.Duration, fn func()) *poller {
	if !want {
		p.stop()
		return nil
	}
	if p != nil && p.interval == interval {
		return p
	}
	p.stop()
	return startPoller(parent, name, interval, fn)
}

// reschedule starts and stops the three pollers from the current AIState and
// ROM flag. Callers hold l.mu.
func (l *Loop) reschedule() {
	if l.runCtx == nil {
		return
	}
	ctx := l.runCtx
	loaded := l.romLoaded

	l.actionPoller = syncPoller(l.actionPoller,
		loaded && l.state == models.AIStateRunning,
		ctx, "action", l.actionInterval(),
		func() { l.Tick(ctx) })

	l.streamPoller = syncPoller(l.streamPoller,
		loaded && l.state != models.AIStateThinking,
		ctx, "stream", l.timing.Stream,
		func() { l.refreshScreen(ctx) })

	l.idlePoller = syncPoller(l.idlePoller,
		loaded && l.state == models.AIStateIdle,
		ctx, "idle", l.timing.IdleRefresh,
		func() { l.refreshFull(ctx) })
}

func (l *Loop) stopPollers() {
	l.actionPoller.stop()
	l.streamPoller.stop()
	l.idlePoller.stop()
	l.actionPoller, l.streamPoller, l.idlePoller = nil, nil, nil
}

func (l *Loop) actionInterval() time.Duration {
	ms := l.session.Settings.AIActionInterval
	if ms <= 0 {
		ms = defaultActionIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}
