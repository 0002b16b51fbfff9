package tracker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Flush delivers one batch of up to BatchSize events from the head of the
// queue. On failure the batch goes back to the head in its original order
// and automatic flushes back off. Flush ignores the backoff window but
// does nothing while offline.
func (t *Tracker) Flush(ctx context.Context) error {
	_, err := t.flush(ctx)
	return err
}

// flush returns how many events it attempted to deliver
func (t *Tracker) flush(ctx context.Context) (int, error) {
	t.mu.Lock()
	if !t.online || t.queue.len() == 0 {
		t.mu.Unlock()
		return 0, nil
	}
	batch := t.queue.take(t.cfg.BatchSize)
	payload := Payload{
		SiteID:     t.cfg.SiteID,
		LicenseKey: t.cfg.LicenseKey,
		Events:     batch,
		SessionInfo: SessionInfo{
			SessionID:         t.sessionID,
			VisitorID:         t.visitor.ID,
			DeviceFingerprint: t.fingerprint,
		},
	}
	t.mu.Unlock()

	ctx, span := t.tracer.Start(ctx, "tracker.flush",
		trace.WithAttributes(attribute.Int("pulse.batch_size", len(batch))))
	defer span.End()

	start := time.Now()
	err := t.sender.Send(ctx, payload)
	t.metrics.FlushDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		t.mu.Lock()
		evicted := t.queue.requeue(batch)
		delay := t.backoff.fail(t.now())
		t.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.metrics.FlushFailures.Add(ctx, 1)
		t.reportEvicted(ctx, evicted)
		t.logger.WarnContext(ctx, "failed to send events, requeued",
			slog.Int("events", len(batch)),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))
		return len(batch), err
	}

	t.mu.Lock()
	t.backoff.reset()
	t.mu.Unlock()

	t.metrics.EventsFlushed.Add(ctx, int64(len(batch)))
	t.debug(ctx, "sent events", slog.Int("events", len(batch)))
	return len(batch), nil
}

// autoFlush is a flush that respects the backoff window
func (t *Tracker) autoFlush(ctx context.Context, trigger string) {
	t.mu.Lock()
	ready := t.backoff.ready(t.now())
	t.mu.Unlock()

	if !ready {
		t.debug(ctx, "flush skipped during backoff", slog.String("trigger", trigger))
		return
	}
	_ = t.Flush(ctx)
}

// priorityFlush flushes out of band, limited to a few per second so a
// burst of high-priority events cannot hammer the collector
func (t *Tracker) priorityFlush() {
	if !t.limiter.Allow() {
		t.debug(context.Background(), "priority flush rate limited, waiting for timer")
		return
	}
	t.goFlush("priority")
}

// goFlush runs an automatic flush in a goroutine tracked by Close
func (t *Tracker) goFlush(trigger string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	ctx := t.runCtx
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.autoFlush(ctx, trigger)
	}()
}

func (t *Tracker) flushLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.autoFlush(ctx, "timer")
		}
	}
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.env.Visible() {
				continue
			}
			t.mu.Lock()
			elapsed := t.now().Sub(t.sessionStart)
			t.mu.Unlock()
			t.TrackEvent(EventHeartbeat, map[string]any{"session_duration": elapsed.Milliseconds()})
		}
	}
}

// SetOnline records connectivity. Coming back online clears the backoff
// and flushes immediately.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	was := t.online
	t.online = online
	if online {
		t.backoff.reset()
	}
	pending := t.queue.len() > 0 && t.initialized
	t.mu.Unlock()

	t.debug(context.Background(), "connectivity changed", slog.Bool("online", online))
	if online && !was && pending {
		t.goFlush("online")
	}
}
