// Package gateway implements the CTP market-data gateway core: the
// connection manager, the subscription registry and the ingest pipeline
// bridging the native SDK callback thread to a single dispatch goroutine.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ctp-md-gateway/internal/bars"
	"ctp-md-gateway/internal/config"
	"ctp-md-gateway/internal/ctp"
	"ctp-md-gateway/internal/gwerr"
	"ctp-md-gateway/internal/metrics"
	"ctp-md-gateway/internal/model"
	"ctp-md-gateway/internal/session"
)

// Callback types. All callbacks run on the dispatch goroutine in
// registration order; a panicking callback is isolated and logged.
type (
	TickCallback  func(*model.Tick)
	DepthCallback func(*model.Depth)
	BarCallback   func(*model.Bar)
	StateCallback func(old, new session.State)

	// AlertFunc receives operator notifications, e.g. repeated reconnect
	// failures. Level is "CRITICAL" for reconnect alerts.
	AlertFunc func(level, message string)
)

type loginResult struct {
	err error
}

// Gateway is a CTP market-data gateway instance.
type Gateway struct {
	cfg    config.Config
	logger zerolog.Logger
	sm     *session.Machine

	newAPI ctp.Factory

	// mu guards the native handle, the login channel, the subscription
	// registry and the reconnect task handle. Tick-path state lives on
	// the dispatch goroutine and is never touched under mu.
	mu          sync.Mutex
	api         ctp.MdAPI
	requestID   int
	loginCh     chan loginResult
	subscribed  map[string]struct{}
	universe    map[string]struct{}
	connectedAt time.Time

	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}

	// Bridge from the SDK callback thread into the dispatch goroutine.
	events    chan event
	tickQueue chan *model.Tick

	// Dispatch-goroutine-owned ingest state.
	lastSeen    map[string]time.Time
	aggs        map[string]*bars.Set
	cache       *tickCache
	lastDropLog time.Time

	lastTickMu sync.Mutex
	lastTickAt time.Time

	tickCallbacks  []TickCallback
	depthCallbacks []DepthCallback
	barCallbacks   []BarCallback
	alert          AlertFunc

	quit         chan struct{}
	dispatchDone chan struct{}
	closeOnce    sync.Once
}

// Option customizes gateway construction.
type Option func(*Gateway)

// WithAPIFactory overrides how native handles are created. The default is
// the offline simulation handle; production wiring passes the real SDK
// binding here.
func WithAPIFactory(f ctp.Factory) Option {
	return func(g *Gateway) { g.newAPI = f }
}

// WithAlertFunc wires the operator alert sink.
func WithAlertFunc(f AlertFunc) Option {
	return func(g *Gateway) { g.alert = f }
}

// New constructs a gateway from an already validated config and starts
// its dispatch goroutine. The instance is DISCONNECTED until Connect.
func New(cfg config.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("gateway", cfg.GatewayName).Logger()
	g := &Gateway{
		cfg:          cfg,
		logger:       logger,
		sm:           session.NewMachine(logger),
		newAPI:       ctp.NewSimAPI,
		subscribed:   make(map[string]struct{}),
		universe:     make(map[string]struct{}),
		events:       make(chan event, cfg.TickQueueSize),
		tickQueue:    make(chan *model.Tick, cfg.TickQueueSize),
		lastSeen:     make(map[string]time.Time),
		aggs:         make(map[string]*bars.Set),
		cache:        newTickCache(cfg.TickCacheSize),
		quit:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.sm.OnChange(func(old, new session.State) {
		metrics.SetState(cfg.GatewayName, new.MetricValue())
	})

	go g.dispatch()

	logger.Info().
		Str("type", string(cfg.GatewayType)).
		Int("max_subscriptions", cfg.MaxSubscriptions).
		Msg("Gateway initialized")
	return g, nil
}

// State returns the current session state.
func (g *Gateway) State() session.State {
	return g.sm.State()
}

// IsConnected reports whether a login is live.
func (g *Gateway) IsConnected() bool {
	return g.sm.IsConnected()
}

// ConnectedAt returns when the current login completed, zero if never.
func (g *Gateway) ConnectedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectedAt
}

// LastTickAt returns the reception time of the most recent accepted tick.
func (g *Gateway) LastTickAt() time.Time {
	g.lastTickMu.Lock()
	defer g.lastTickMu.Unlock()
	return g.lastTickAt
}

// OnTick registers a tick callback. Register before Connect.
func (g *Gateway) OnTick(cb TickCallback) {
	g.tickCallbacks = append(g.tickCallbacks, cb)
}

// OnDepth registers a depth callback. Register before Connect.
func (g *Gateway) OnDepth(cb DepthCallback) {
	g.depthCallbacks = append(g.depthCallbacks, cb)
}

// OnBar registers a completed-bar callback. Register before Connect.
func (g *Gateway) OnBar(cb BarCallback) {
	g.barCallbacks = append(g.barCallbacks, cb)
}

// OnStateChange registers a session state listener.
func (g *Gateway) OnStateChange(cb StateCallback) {
	g.sm.OnChange(func(old, new session.State) { cb(old, new) })
}

// SetSymbolUniverse loads the discoverable symbol set used for wildcard
// expansion. The universe is not a subscription.
func (g *Gateway) SetSymbolUniverse(symbols []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.universe = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		g.universe[s] = struct{}{}
	}
}

// Connect brings up the native handle and completes the login handshake.
// It is idempotent while a login is live. The wait is bounded by the
// configured connect timeout and by ctx.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.sm.IsConnected() {
		g.logger.Warn().Msg("Already connected, skipping connect")
		return nil
	}
	if g.sm.State() == session.Stopped {
		return gwerr.New(gwerr.ConnectionFailed, "gateway is stopped", nil)
	}

	g.sm.Set(session.Connecting)

	if err := g.bringUp(); err != nil {
		g.sm.Set(session.Error)
		return err
	}

	if err := g.waitForLogin(ctx); err != nil {
		g.sm.Set(session.Error)
		return err
	}

	g.mu.Lock()
	g.connectedAt = time.Now().UTC()
	g.mu.Unlock()
	g.sm.Set(session.Connected)
	g.logger.Info().Str("front", g.cfg.CTP.FrontAddr).Msg("Connected to market front")
	return nil
}

// bringUp creates a fresh native handle, registers the receiver and the
// front address and starts asynchronous init. The login response arrives
// later on the SDK thread and is signalled through loginCh.
func (g *Gateway) bringUp() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.api != nil {
		g.api.Release()
		g.api = nil
	}

	api := g.newAPI()
	if api == nil {
		return gwerr.New(gwerr.ConnectionFailed, "native handle creation failed",
			map[string]any{"host": g.cfg.CTP.FrontAddr})
	}

	g.loginCh = make(chan loginResult, 1)
	g.api = api
	api.RegisterSpi(&spiBridge{g: g})
	api.RegisterFront(g.cfg.CTP.FrontAddr)
	api.Init()
	return nil
}

func (g *Gateway) waitForLogin(ctx context.Context) error {
	g.mu.Lock()
	loginCh := g.loginCh
	g.mu.Unlock()

	timeout := g.cfg.ConnectTimeoutDuration()
	select {
	case res := <-loginCh:
		if res.err != nil {
			return gwerr.Wrap(gwerr.AuthFailed, "login failed: "+res.err.Error(),
				map[string]any{"host": g.cfg.CTP.FrontAddr}, res.err)
		}
		return nil
	case <-time.After(timeout):
		return gwerr.New(gwerr.ConnectionTimeout, "connect timed out",
			map[string]any{
				"host":            g.cfg.CTP.FrontAddr,
				"timeout_seconds": g.cfg.ConnectTimeout,
			})
	case <-ctx.Done():
		return gwerr.Wrap(gwerr.ConnectionFailed, "connect canceled",
			map[string]any{"host": g.cfg.CTP.FrontAddr}, ctx.Err())
	}
}

// Disconnect cancels any in-flight reconnect, releases the native handle
// and returns the session to DISCONNECTED. Safe to call repeatedly.
func (g *Gateway) Disconnect() error {
	if g.sm.State() == session.Disconnected {
		return nil
	}

	g.logger.Info().Msg("Disconnecting from market front")
	g.cancelReconnect()

	g.mu.Lock()
	api := g.api
	g.api = nil
	g.mu.Unlock()

	if api != nil {
		api.Release()
	}
	if g.sm.State() != session.Stopped {
		g.sm.Set(session.Disconnected)
	}
	return nil
}

// Close disconnects and stops the gateway permanently: the session moves
// to its terminal state, the dispatch goroutine exits and tick stream
// consumers drain the remaining queue and close.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.Disconnect()
		g.sm.Set(session.Stopped)
		close(g.quit)
		<-g.dispatchDone
	})
	return err
}

// cancelReconnect stops the reconnect task if one is running and waits
// for it to terminate.
func (g *Gateway) cancelReconnect() {
	g.mu.Lock()
	cancel := g.reconnectCancel
	done := g.reconnectDone
	g.reconnectCancel = nil
	g.reconnectDone = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// nextRequestID allocates the SDK request sequence number.
func (g *Gateway) nextRequestID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requestID++
	return g.requestID
}

func (g *Gateway) signalLogin(err error) {
	g.mu.Lock()
	ch := g.loginCh
	g.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- loginResult{err: err}:
	default: // a result is already pending; keep the first
	}
}
