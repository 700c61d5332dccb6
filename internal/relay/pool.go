// Package relay implements the websocket transport to Nostr relays and the
// fetch, publish and relay selection layers built on it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync"
	"golang.org/x/sync/singleflight"

	"nostr-feed/internal/metrics"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

var (
	ErrUnsafeRelay = errors.New("relay URL blocked: unsafe destination")
	ErrPoolClosed  = errors.New("relay pool closed")
)

const (
	subscriptionBuffer = 512
	writeTimeout       = 10 * time.Second
	idleTimeout        = 2 * time.Minute
)

// isRelayURLSafe validates that a relay URL is safe to connect to.
// Loopback is allowed for development; other private ranges are not.
func isRelayURLSafe(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if util.IsLoopbackHost(host) {
		return true
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts fail at dial time; only block obvious internal names here
		return !util.IsInternalHost(host)
	}
	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}
	return true
}

func isRelayIPSafe(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	return !(ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast())
}

// Subscription is an open REQ on one relay
type Subscription struct {
	ID     string
	Relay  string
	Events chan types.Event
	EOSE   chan struct{} // closed on end of stored events
	Done   chan struct{} // closed when the subscription ends for any reason

	eoseOnce  sync.Once
	closeOnce sync.Once
	reason    string
}

func newSubscription(id, relayURL string) *Subscription {
	return &Subscription{
		ID:     id,
		Relay:  relayURL,
		Events: make(chan types.Event, subscriptionBuffer),
		EOSE:   make(chan struct{}),
		Done:   make(chan struct{}),
	}
}

func (s *Subscription) signalEOSE() {
	s.eoseOnce.Do(func() { close(s.EOSE) })
}

func (s *Subscription) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.Done)
	})
}

// Reason is the relay's CLOSED message or the disconnect cause.
// Only meaningful after Done is closed.
func (s *Subscription) Reason() string {
	return s.reason
}

type okResult struct {
	accepted bool
	message  string
}

// conn manages a single websocket connection with multiple subscriptions
type conn struct {
	pool          *Pool
	ws            *websocket.Conn
	relayURL      string
	mu            sync.Mutex
	writeMu       sync.Mutex
	subscriptions map[string]*Subscription
	okWaiters     map[string]chan okResult
	closed        bool
	lastActivity  time.Time
}

// Pool manages connections to multiple relays
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*conn
	status      *xsync.MapOf[string, types.SocketState]
	dialer      *websocket.Dialer
	subCounter  atomic.Uint64
	dials       singleflight.Group

	closed   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	publishTimeout time.Duration

	// urlCheck guards dial targets; tests relax it for httptest servers
	urlCheck func(string) bool
}

// NewPool creates a connection pool and starts its idle cleanup loop
func NewPool() *Pool {
	p := &Pool{
		connections:    make(map[string]*conn),
		status:         xsync.NewMapOf[types.SocketState](),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		stopCh:         make(chan struct{}),
		publishTimeout: 5 * time.Second,
		urlCheck:       isRelayURLSafe,
	}
	go p.cleanupLoop()
	return p
}

// SetPublishTimeout bounds waiting for OK when the caller's ctx has no deadline
func (p *Pool) SetPublishTimeout(d time.Duration) {
	if d > 0 {
		p.publishTimeout = d
	}
}

func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if !p.urlCheck(relayURL) {
		return nil, ErrUnsafeRelay
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	// Concurrent callers for the same relay share one dial
	v, err, _ := p.dials.Do(relayURL, func() (interface{}, error) {
		p.mu.RLock()
		existing := p.connections[relayURL]
		p.mu.RUnlock()
		if existing != nil && !existing.isClosed() {
			return existing, nil
		}

		slog.Debug("pool: creating connection", "relay", relayURL)
		p.status.Store(relayURL, types.SocketConnecting)
		ws, _, err := p.dialer.DialContext(ctx, relayURL, nil)
		if err != nil {
			p.status.Store(relayURL, types.SocketClosed)
			return nil, fmt.Errorf("dial %s: %w", relayURL, err)
		}

		c := &conn{
			pool:          p,
			ws:            ws,
			relayURL:      relayURL,
			subscriptions: make(map[string]*Subscription),
			okWaiters:     make(map[string]chan okResult),
			lastActivity:  time.Now(),
		}
		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			ws.Close()
			p.status.Store(relayURL, types.SocketClosed)
			return nil, ErrPoolClosed
		}
		p.connections[relayURL] = c
		p.mu.Unlock()
		p.status.Store(relayURL, types.SocketOpen)
		metrics.RelayConnections.Inc()

		go c.readLoop()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*conn), nil
}

// Subscribe sends a REQ with the given filters to relayURL
func (p *Pool) Subscribe(ctx context.Context, relayURL string, filters []types.Filter) (*Subscription, error) {
	const maxRetries = 3

	subID := "nf-" + strconv.FormatUint(p.subCounter.Add(1), 36)
	sub := newSubscription(subID, relayURL)

	var rc *conn
	for attempt := 0; attempt < maxRetries; attempt++ {
		c, err := p.getOrCreateConn(ctx, relayURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		c.subscriptions[subID] = sub
		c.lastActivity = time.Now()
		c.mu.Unlock()
		rc = c
		break
	}
	if rc == nil {
		return nil, fmt.Errorf("connect %s: failed after %d attempts", relayURL, maxRetries)
	}

	req := make([]interface{}, 0, len(filters)+2)
	req = append(req, "REQ", subID)
	for _, f := range filters {
		req = append(req, f.ToMap())
	}
	if err := rc.writeJSON(req); err != nil {
		rc.mu.Lock()
		delete(rc.subscriptions, subID)
		rc.mu.Unlock()
		rc.markClosed()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe sends CLOSE (best effort) and ends the subscription
func (p *Pool) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	rc := p.connections[sub.Relay]
	p.mu.RUnlock()

	if rc != nil {
		rc.mu.Lock()
		_, exists := rc.subscriptions[sub.ID]
		shouldSendClose := !rc.closed && exists
		delete(rc.subscriptions, sub.ID)
		rc.mu.Unlock()

		if shouldSendClose {
			rc.writeJSON([]interface{}{"CLOSE", sub.ID})
		}
	}
	sub.close("unsubscribed")
}

func (c *conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.ws.SetWriteDeadline(time.Time{})
	return c.ws.WriteJSON(v)
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop reads from the connection and routes messages to subscriptions
func (c *conn) readLoop() {
	defer c.markClosed()

	for {
		var msg []interface{}
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !c.isClosed() {
				slog.Debug("pool: read error", "relay", c.relayURL, "error", err)
			}
			return
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, _ := msg[1].(string)
			c.routeEvent(subID, msg[2])

		case "EOSE":
			subID, _ := msg[1].(string)
			if sub := c.subscription(subID); sub != nil {
				sub.signalEOSE()
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			reason := ""
			if len(msg) >= 3 {
				reason, _ = msg[2].(string)
			}
			c.mu.Lock()
			sub := c.subscriptions[subID]
			delete(c.subscriptions, subID)
			c.mu.Unlock()
			if sub != nil {
				slog.Debug("pool: subscription closed by relay", "relay", c.relayURL, "sub", subID, "reason", reason)
				sub.close(reason)
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			accepted, _ := msg[2].(bool)
			message := ""
			if len(msg) >= 4 {
				message, _ = msg[3].(string)
			}
			c.mu.Lock()
			waiter := c.okWaiters[eventID]
			delete(c.okWaiters, eventID)
			c.mu.Unlock()
			if waiter != nil {
				waiter <- okResult{accepted: accepted, message: message}
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Info("pool: relay notice", "relay", c.relayURL, "notice", notice)
		}
	}
}

func (c *conn) subscription(subID string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[subID]
}

func (c *conn) routeEvent(subID string, raw interface{}) {
	sub := c.subscription(subID)
	if sub == nil {
		return
	}

	evt, ok := nostr.ParseEventFromInterface(raw)
	if !ok {
		metrics.IncrementDropped("invalid")
		return
	}
	evt.RelaysSeen = []string{c.relayURL}
	metrics.EventsReceived.Inc()

	select {
	case sub.Events <- evt:
	case <-sub.Done:
	default:
		metrics.IncrementDropped("overflow")
		slog.Warn("pool: subscription buffer full, dropping event", "relay", c.relayURL, "sub", subID)
	}
}

// markClosed closes the socket and ends every subscription on it
func (c *conn) markClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pool.status.Store(c.relayURL, types.SocketClosing)
	subs := c.subscriptions
	waiters := c.okWaiters
	c.subscriptions = make(map[string]*Subscription)
	c.okWaiters = make(map[string]chan okResult)
	c.mu.Unlock()

	c.ws.Close()
	metrics.RelayConnections.Dec()
	c.pool.status.Store(c.relayURL, types.SocketClosed)

	for _, sub := range subs {
		sub.close("disconnected")
	}
	for _, w := range waiters {
		close(w)
	}
}

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup removes connections that have been idle too long
func (p *Pool) cleanup() {
	p.mu.Lock()
	var stale []*conn
	now := time.Now()
	for relayURL, rc := range p.connections {
		rc.mu.Lock()
		idle := len(rc.subscriptions) == 0 && len(rc.okWaiters) == 0 && now.Sub(rc.lastActivity) > idleTimeout
		closed := rc.closed
		rc.mu.Unlock()

		if closed || idle {
			delete(p.connections, relayURL)
			if !closed {
				stale = append(stale, rc)
			}
		}
	}
	p.mu.Unlock()

	for _, rc := range stale {
		slog.Debug("pool: closing idle connection", "relay", rc.relayURL)
		rc.markClosed()
	}
}

// Statuses reports the socket state of every relay the pool has dialed
func (p *Pool) Statuses() []types.RelayStatus {
	var statuses []types.RelayStatus
	p.status.Range(func(relayURL string, state types.SocketState) bool {
		statuses = append(statuses, types.RelayStatus{
			URL:       relayURL,
			Status:    state,
			Connected: state == types.SocketOpen,
		})
		return true
	})
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].URL < statuses[j].URL })
	return statuses
}

// Close shuts down every connection and stops the cleanup loop
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		close(p.stopCh)

		p.mu.Lock()
		conns := p.connections
		p.connections = make(map[string]*conn)
		p.mu.Unlock()

		for _, rc := range conns {
			rc.markClosed()
		}
	})
}
