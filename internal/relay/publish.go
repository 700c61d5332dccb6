package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nostr-feed/internal/metrics"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

var ErrNoRelayAccepted = errors.New("no relay accepted the event")

// PublishStatus is one relay's answer to an EVENT
type PublishStatus struct {
	Relay    string `json:"relay"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PublishResult collects the per-relay outcome of a publish
type PublishResult struct {
	EventID  string          `json:"event_id"`
	Statuses []PublishStatus `json:"statuses"`
}

// Accepted reports whether at least one relay stored the event
func (r PublishResult) Accepted() bool {
	for _, s := range r.Statuses {
		if s.Accepted {
			return true
		}
	}
	return false
}

// AcceptedBy lists the relays that stored the event
func (r PublishResult) AcceptedBy() []string {
	var relays []string
	for _, s := range r.Statuses {
		if s.Accepted {
			relays = append(relays, s.Relay)
		}
	}
	return relays
}

// Publisher sends signed events to relays
type Publisher interface {
	Publish(ctx context.Context, evt types.Event, relays []string, delay time.Duration) (PublishResult, error)
}

// Publish waits for delay (cancellable), then sends evt to every relay in
// parallel and waits for each OK until ctx is done. It returns
// ErrNoRelayAccepted when no relay stored the event.
func (p *Pool) Publish(ctx context.Context, evt types.Event, relays []string, delay time.Duration) (PublishResult, error) {
	result := PublishResult{EventID: evt.ID}

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	relays = nostr.NormalizeRelayURLs(relays)
	statuses := make([]PublishStatus, len(relays))
	var wg sync.WaitGroup
	for i, relayURL := range relays {
		wg.Add(1)
		go func(i int, relayURL string) {
			defer wg.Done()
			statuses[i] = p.publishOne(ctx, relayURL, evt)
		}(i, relayURL)
	}
	wg.Wait()

	result.Statuses = statuses
	for _, s := range statuses {
		if s.Accepted {
			metrics.PublishResults.WithLabelValues("accepted").Inc()
		} else {
			metrics.PublishResults.WithLabelValues("rejected").Inc()
		}
	}

	if !result.Accepted() {
		slog.Warn("publish rejected by all relays", "event_id", nostr.ShortID(evt.ID), "relays", len(relays))
		return result, ErrNoRelayAccepted
	}
	slog.Debug("published event", "event_id", nostr.ShortID(evt.ID), "accepted_by", len(result.AcceptedBy()))
	return result, nil
}

func (p *Pool) publishOne(ctx context.Context, relayURL string, evt types.Event) PublishStatus {
	status := PublishStatus{Relay: relayURL}

	rc, err := p.getOrCreateConn(ctx, relayURL)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	waiter := make(chan okResult, 1)
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		status.Error = "disconnected"
		return status
	}
	rc.okWaiters[evt.ID] = waiter
	rc.lastActivity = time.Now()
	rc.mu.Unlock()

	if err := rc.writeJSON([]interface{}{"EVENT", evt}); err != nil {
		rc.mu.Lock()
		delete(rc.okWaiters, evt.ID)
		rc.mu.Unlock()
		status.Error = err.Error()
		return status
	}

	select {
	case res, ok := <-waiter:
		if !ok {
			status.Error = "disconnected"
			return status
		}
		status.Accepted = res.accepted
		status.Message = res.message
	case <-ctx.Done():
		rc.mu.Lock()
		delete(rc.okWaiters, evt.ID)
		rc.mu.Unlock()
		status.Error = ctx.Err().Error()
	}
	return status
}
