package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"nostr-feed/internal/config"
	"nostr-feed/internal/metrics"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

var (
	ErrNoRelays        = errors.New("no relays to query")
	ErrAllRelaysFailed = errors.New("every relay failed")
)

// Transport opens and closes relay subscriptions. *Pool implements it.
type Transport interface {
	Subscribe(ctx context.Context, relayURL string, filters []types.Filter) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

// Request describes one relay fetch
type Request struct {
	Filters []types.Filter
	Relays  []string

	// AutoClose ends every subscription once the fetch completes. Without it
	// the stream strategy keeps subscriptions open until ctx is done.
	AutoClose bool

	// Threshold is the fraction of relays whose EOSE completes the fetch.
	// Zero uses the fetcher default.
	Threshold float64

	// CompleteOn, when set, completes the fetch as soon as it returns true
	// for a received event
	CompleteOn func(evt types.Event) bool

	OnEvent      func(evt types.Event)
	OnEOSE       func(relay string)
	OnDisconnect func(relay string)
}

// Strategy decides how fetched events reach the repository
type Strategy interface {
	Name() string
	Begin(repo *repository.Repository, req *Request) Sink
}

// Sink receives the events of a single fetch. Calls are serialized.
type Sink interface {
	Event(evt types.Event)
	EOSE(relay string)
	Disconnect(relay string)
	// Finish runs once after the fetch completes or is cancelled
	Finish()
}

// BatchStrategy collects everything and stores it once the fetch settles
type BatchStrategy struct{}

func (BatchStrategy) Name() string { return config.StrategyLoad }

func (BatchStrategy) Begin(repo *repository.Repository, _ *Request) Sink {
	return &batchSink{repo: repo, seen: make(map[string]int)}
}

type batchSink struct {
	repo   *repository.Repository
	events []types.Event
	seen   map[string]int
}

func (s *batchSink) Event(evt types.Event) {
	if i, ok := s.seen[evt.ID]; ok {
		s.events[i].RelaysSeen = append(s.events[i].RelaysSeen, evt.RelaysSeen...)
		return
	}
	s.seen[evt.ID] = len(s.events)
	s.events = append(s.events, evt)
}

func (s *batchSink) EOSE(string)       {}
func (s *batchSink) Disconnect(string) {}

func (s *batchSink) Finish() {
	if len(s.events) > 0 {
		s.repo.Add(s.events...)
	}
}

// StreamStrategy stores each event as it arrives and reports progress
// through the request callbacks
type StreamStrategy struct{}

func (StreamStrategy) Name() string { return config.StrategyRequest }

func (StreamStrategy) Begin(repo *repository.Repository, req *Request) Sink {
	return &streamSink{repo: repo, req: req}
}

type streamSink struct {
	repo *repository.Repository
	req  *Request
}

func (s *streamSink) Event(evt types.Event) {
	s.repo.Add(evt)
	if s.req.OnEvent != nil {
		s.req.OnEvent(evt)
	}
}

func (s *streamSink) EOSE(relay string) {
	if s.req.OnEOSE != nil {
		s.req.OnEOSE(relay)
	}
}

func (s *streamSink) Disconnect(relay string) {
	if s.req.OnDisconnect != nil {
		s.req.OnDisconnect(relay)
	}
}

func (s *streamSink) Finish() {}

// StrategyFor maps a configured strategy name to its implementation
func StrategyFor(name string) Strategy {
	if name == config.StrategyRequest {
		return StreamStrategy{}
	}
	return BatchStrategy{}
}

// Fetcher runs relay fetches into the repository
type Fetcher struct {
	transport Transport
	repo      *repository.Repository
	strategy  Strategy
	threshold float64
	maxWait   time.Duration
}

// NewFetcher builds a fetcher using the strategy and limits from cfg
func NewFetcher(transport Transport, repo *repository.Repository, cfg *config.LoaderConfig) *Fetcher {
	return &Fetcher{
		transport: transport,
		repo:      repo,
		strategy:  StrategyFor(cfg.FetchStrategy),
		threshold: cfg.FetchThreshold,
		maxWait:   cfg.FetchMaxWait(),
	}
}

func (f *Fetcher) Strategy() Strategy { return f.strategy }

// requiredEOSE is ceil(threshold * n), clamped to [1, n]
func requiredEOSE(threshold float64, n int) int {
	need := int(math.Ceil(threshold * float64(n)))
	if need < 1 {
		need = 1
	}
	if need > n {
		need = n
	}
	return need
}

// fetchState tracks completion of a single Load
type fetchState struct {
	mu         sync.Mutex
	sink       Sink
	completeOn func(types.Event) bool
	need       int
	total      int
	eose       int
	finished   int
	failures   []error
	complete   chan struct{}
	once       sync.Once
}

func (s *fetchState) event(evt types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Event(evt)
	if s.completeOn != nil && s.completeOn(evt) {
		s.once.Do(func() { close(s.complete) })
	}
}

func (s *fetchState) gotEOSE(relay string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eose++
	s.sink.EOSE(relay)
	s.check()
}

func (s *fetchState) done(relay string, err error, disconnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
	if err != nil {
		s.failures = append(s.failures, fmt.Errorf("%s: %w", relay, err))
	}
	if disconnected {
		s.sink.Disconnect(relay)
	}
	s.check()
}

// check must be called with mu held
func (s *fetchState) check() {
	if s.eose >= s.need || s.finished >= s.total {
		s.once.Do(func() { close(s.complete) })
	}
}

// Load queries req.Relays with req.Filters and feeds the results to the
// repository through the configured strategy. It returns once enough relays
// have sent EOSE, every relay has finished, or ctx is done.
func (f *Fetcher) Load(ctx context.Context, req Request) error {
	relays := nostr.NormalizeRelayURLs(req.Relays)
	if len(relays) == 0 || len(req.Filters) == 0 {
		return ErrNoRelays
	}

	// waitCtx bounds completion; subscriptions live on ctx so the stream
	// strategy can keep them open past the return
	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok && f.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.maxWait)
		defer cancel()
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = f.threshold
	}

	state := &fetchState{
		sink:       f.strategy.Begin(f.repo, &req),
		completeOn: req.CompleteOn,
		need:       requiredEOSE(threshold, len(relays)),
		total:      len(relays),
		complete:   make(chan struct{}),
	}

	// stop ends every relay goroutine; subscriptions are always closed through it
	subCtx, cancelSubs := context.WithCancel(ctx)
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() {
		stopOnce.Do(func() {
			close(stop)
			cancelSubs()
		})
	}

	var wg sync.WaitGroup
	for _, relayURL := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			f.runRelay(subCtx, relayURL, req.Filters, state, stop)
		}(relayURL)
	}

	start := time.Now()
	outcome := "complete"
	select {
	case <-state.complete:
	case <-waitCtx.Done():
		outcome = "timeout"
		if errors.Is(ctx.Err(), context.Canceled) {
			outcome = "cancelled"
		}
	}

	keepOpen := f.strategy.Name() == config.StrategyRequest && !req.AutoClose && ctx.Err() == nil
	if keepOpen {
		go func() {
			<-ctx.Done()
			stopAll()
			wg.Wait()
		}()
	} else {
		stopAll()
		wg.Wait()
	}

	state.mu.Lock()
	state.sink.Finish()
	failures := state.failures
	eose := state.eose
	state.mu.Unlock()

	if len(failures) == len(relays) {
		outcome = "failed"
	}
	metrics.RelayFetches.WithLabelValues(f.strategy.Name(), outcome).Inc()
	slog.Debug("relay fetch finished",
		"strategy", f.strategy.Name(),
		"relays", len(relays),
		"eose", eose,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds())

	if outcome == "failed" {
		return fmt.Errorf("%w: %w", ErrAllRelaysFailed, errors.Join(failures...))
	}
	if outcome == "cancelled" {
		return ctx.Err()
	}
	return nil
}

func (f *Fetcher) runRelay(ctx context.Context, relayURL string, filters []types.Filter, state *fetchState, stop <-chan struct{}) {
	sub, err := f.transport.Subscribe(ctx, relayURL, filters)
	if err != nil {
		slog.Debug("relay subscribe failed", "relay", relayURL, "error", err)
		state.done(relayURL, err, false)
		return
	}

	eose := sub.EOSE
	for {
		select {
		case evt := <-sub.Events:
			state.event(evt)
		case <-eose:
			eose = nil
			state.gotEOSE(relayURL)
		case <-sub.Done:
			drain(sub, state)
			reason := sub.Reason()
			state.done(relayURL, nil, reason == "disconnected")
			return
		case <-stop:
			f.transport.Unsubscribe(sub)
			drain(sub, state)
			state.done(relayURL, nil, false)
			return
		}
	}
}

// drain delivers events already buffered on a finished subscription
func drain(sub *Subscription, state *fetchState) {
	for {
		select {
		case evt := <-sub.Events:
			state.event(evt)
		default:
			return
		}
	}
}
