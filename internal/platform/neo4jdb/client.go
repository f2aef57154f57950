package neo4jdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/newsgraph/internal/platform/logger"
	"github.com/yungbote/newsgraph/internal/platform/retry"
)

var tracer = otel.Tracer("github.com/yungbote/newsgraph/internal/platform/neo4jdb")

type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Hooks let callers export connection events without this package knowing about metrics.
type Hooks struct {
	OnPhase func(PhaseResult)
	OnRetry retry.Observer
	OnState func(State)
}

type Option func(*Client)

func WithDriverFactory(f DriverFactory) Option {
	return func(c *Client) {
		if f != nil {
			c.newDriver = f
		}
	}
}

func WithResolver(r Resolver) Option {
	return func(c *Client) {
		if r != nil {
			c.resolver = r
		}
	}
}

func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(c *Client) { c.hooks = h }
}

// WithOnConnect registers fn to run after every successful Connect, including
// the ones ReconnectIfNeeded triggers. It runs before Connect returns.
func WithOnConnect(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onConnect = fn }
}

// WithRetryOptions forwards options (sleep, rand) to every retry loop the client runs.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

type Client struct {
	cfg    Config
	target Target
	log    *logger.Logger

	newDriver DriverFactory
	resolver  Resolver
	dialer    Dialer
	hooks     Hooks
	onConnect func(ctx context.Context)
	retryOpts []retry.Option

	connectMu sync.Mutex
	reconnect singleflight.Group

	mu       sync.RWMutex
	state    State
	driver   Driver
	lastDiag *Diagnostics
}

func New(cfg Config, log *logger.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	target, err := ParseTarget(cfg.URI)
	if err != nil {
		return nil, &ConnectionError{Phase: PhaseConfig, Err: err}
	}
	if err := cfg.ConnectRetry.Validate(); err != nil {
		return nil, &ConnectionError{Phase: PhaseConfig, Err: err}
	}
	if err := cfg.VerifyRetry.Validate(); err != nil {
		return nil, &ConnectionError{Phase: PhaseConfig, Err: err}
	}
	c := &Client{
		cfg:       cfg,
		target:    target,
		log:       log.With("client", "Neo4jDB", "address", target.Address(), "encrypted", target.Encrypted),
		newDriver: NewNeo4jDriver,
		resolver:  net.DefaultResolver,
		dialer:    &net.Dialer{},
		state:     StateDisconnected,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Target() Target { return c.target }

func (c *Client) Database() string { return c.cfg.Database }

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastDiagnostics returns the report of the most recent Connect, or nil.
func (c *Client) LastDiagnostics() *Diagnostics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastDiag == nil {
		return nil
	}
	cp := *c.lastDiag
	cp.Phases = append([]PhaseResult(nil), c.lastDiag.Phases...)
	return &cp
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.hooks.OnState != nil {
		c.hooks.OnState(s)
	}
}

// Connect walks dns, tcp, handshake and query phases. Any failure leaves the
// client Disconnected without a driver and returns a *ConnectionError naming
// the phase.
func (c *Client) Connect(ctx context.Context) (*Diagnostics, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.State() == StateClosed {
		return nil, ErrClosed
	}
	c.setState(StateConnecting)

	ctx, span := tracer.Start(ctx, "neo4jdb.Connect")
	defer span.End()
	span.SetAttributes(attribute.String("neo4j.address", c.target.Address()))

	diag := &Diagnostics{Address: c.target.Address(), Encrypted: c.target.Encrypted, StartedAt: time.Now().UTC()}
	finish := func(d Driver, err error) (*Diagnostics, error) {
		diag.Elapsed = time.Since(diag.StartedAt)
		diag.Connected = err == nil
		c.mu.Lock()
		c.lastDiag = diag
		stale := c.driver
		c.driver = d
		c.mu.Unlock()
		if stale != nil && stale != d {
			_ = stale.Close(context.WithoutCancel(ctx))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "connect failed")
			c.setState(StateDisconnected)
			return diag, err
		}
		c.setState(StateConnected)
		c.log.Info("neo4j connection established", "elapsed", diag.Elapsed.String())
		if c.onConnect != nil {
			c.onConnect(ctx)
		}
		return diag, nil
	}

	var ip string
	if err := c.phase(ctx, diag, PhaseDNS, func(ctx context.Context) (string, error) {
		var err error
		ip, err = c.resolve(ctx)
		return ip, err
	}); err != nil {
		return finish(nil, err)
	}

	if err := c.phase(ctx, diag, PhaseTCP, func(ctx context.Context) (string, error) {
		return "", c.probeTCP(ctx, ip)
	}); err != nil {
		return finish(nil, err)
	}

	var drv Driver
	if err := c.phase(ctx, diag, PhaseHandshake, func(ctx context.Context) (string, error) {
		d, err := retry.DoValue(ctx, c.cfg.ConnectRetry, "neo4j.handshake", c.handshake, c.retryOptions()...)
		if err != nil {
			return "", err
		}
		drv = d
		return "", nil
	}); err != nil {
		return finish(nil, err)
	}

	if err := c.phase(ctx, diag, PhaseQuery, func(ctx context.Context) (string, error) {
		return "", retry.Do(ctx, c.cfg.VerifyRetry, "neo4j.verify", func(ctx context.Context) error {
			return ping(ctx, drv)
		}, c.retryOptions()...)
	}); err != nil {
		_ = drv.Close(context.WithoutCancel(ctx))
		return finish(nil, err)
	}

	return finish(drv, nil)
}

func (c *Client) phase(ctx context.Context, diag *Diagnostics, p Phase, fn func(ctx context.Context) (string, error)) error {
	ctx, span := tracer.Start(ctx, "neo4jdb.phase."+string(p))
	defer span.End()

	start := time.Now()
	detail, err := fn(ctx)
	res := PhaseResult{Phase: p, OK: err == nil, Duration: time.Since(start), Detail: detail}
	if err != nil {
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(p)+" failed")
		c.log.Warn("neo4j connect phase failed", "phase", string(p), "duration", res.Duration.String(), "error", err)
	} else {
		c.log.Debug("neo4j connect phase ok", "phase", string(p), "duration", res.Duration.String(), "detail", detail)
	}
	diag.Phases = append(diag.Phases, res)
	if c.hooks.OnPhase != nil {
		c.hooks.OnPhase(res)
	}
	if err != nil {
		return &ConnectionError{Phase: p, Address: c.target.Address(), Err: err}
	}
	return nil
}

func (c *Client) resolve(ctx context.Context) (string, error) {
	if ip := net.ParseIP(c.target.Host); ip != nil {
		return ip.String(), nil
	}
	ctx, cancel := withTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	addrs, err := c.resolver.LookupHost(ctx, c.target.Host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", c.target.Host)
	}
	return addrs[0], nil
}

func (c *Client) probeTCP(ctx context.Context, ip string) error {
	ctx, cancel := withTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, c.target.Port))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) handshake(ctx context.Context) (Driver, error) {
	d, err := c.newDriver(c.cfg)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if err := d.VerifyConnectivity(ctx); err != nil {
		_ = d.Close(context.WithoutCancel(ctx))
		if isAuthError(err) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return d, nil
}

func (c *Client) retryOptions() []retry.Option {
	opts := append([]retry.Option(nil), c.retryOpts...)
	opts = append(opts, retry.WithObserver(func(a retry.Attempt) {
		if a.Err != nil {
			c.log.Warn("neo4j attempt failed", "op", a.Op, "attempt", a.Number+1, "next_delay", a.NextDelay.String(), "error", a.Err)
		}
	}))
	if c.hooks.OnRetry != nil {
		opts = append(opts, retry.WithObserver(c.hooks.OnRetry))
	}
	return opts
}

func ping(ctx context.Context, d Driver) error {
	rows, err := d.Run(ctx, AccessRead, "RETURN 1 AS ok", nil)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("unexpected ping result: %d rows", len(rows))
	}
	return nil
}

// Health runs a trivial query. Success moves the client to Connected, failure to Degraded.
func (c *Client) Health(ctx context.Context) error {
	c.mu.RLock()
	state, d := c.state, c.driver
	c.mu.RUnlock()
	switch {
	case state == StateClosed:
		return ErrClosed
	case d == nil:
		return ErrNotConnected
	}

	ctx, cancel := withTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	if err := ping(ctx, d); err != nil {
		c.markDegraded(d)
		return fmt.Errorf("neo4jdb: health check: %w", err)
	}
	c.mu.Lock()
	promote := c.driver == d && c.state == StateDegraded
	c.mu.Unlock()
	if promote {
		c.setState(StateConnected)
		c.log.Info("neo4j connection recovered")
	}
	return nil
}

func (c *Client) markDegraded(d Driver) {
	c.mu.Lock()
	demote := c.driver == d && c.state == StateConnected
	c.mu.Unlock()
	if demote {
		c.setState(StateDegraded)
		c.log.Warn("neo4j connection degraded")
	}
}

// ReconnectIfNeeded checks health and rebuilds the connection when it is degraded or
// absent. Concurrent callers share a single attempt that ignores the starting
// caller's cancellation and is bounded by the probe timeouts and retry policies.
// A caller whose ctx ends stops waiting and gets ctx.Err().
func (c *Client) ReconnectIfNeeded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shared := context.WithoutCancel(ctx)
	ch := c.reconnect.DoChan("reconnect", func() (any, error) {
		if c.State() == StateClosed {
			return nil, ErrClosed
		}
		c.mu.RLock()
		hasDriver := c.driver != nil
		c.mu.RUnlock()
		if hasDriver {
			if err := c.Health(shared); err == nil {
				return nil, nil
			} else if errors.Is(err, ErrClosed) {
				return nil, err
			}
		}

		c.mu.Lock()
		stale := c.driver
		c.driver = nil
		c.mu.Unlock()
		if stale != nil {
			_ = stale.Close(shared)
		}
		c.log.Info("neo4j reconnecting")
		_, err := c.Connect(shared)
		return nil, err
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the pool. Safe from any state and idempotent.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	d := c.driver
	c.driver = nil
	c.mu.Unlock()
	c.setState(StateClosed)
	if d == nil {
		return nil
	}
	c.log.Info("neo4j connection closed")
	return d.Close(ctx)
}

// Execute runs query in a write transaction. It fails fast with ErrNotConnected
// unless the client is Connected.
func (c *Client) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return c.run(ctx, AccessWrite, query, params)
}

func (c *Client) ExecuteRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return c.run(ctx, AccessRead, query, params)
}

func (c *Client) ExecuteAutoCommit(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return c.run(ctx, AccessAutoCommit, query, params)
}

func (c *Client) run(ctx context.Context, mode AccessMode, query string, params map[string]any) ([]map[string]any, error) {
	c.mu.RLock()
	state, d := c.state, c.driver
	c.mu.RUnlock()
	if state == StateClosed {
		return nil, ErrClosed
	}
	if state != StateConnected || d == nil {
		return nil, ErrNotConnected
	}
	rows, err := d.Run(ctx, mode, query, params)
	if err != nil {
		if neo4j.IsConnectivityError(err) {
			c.markDegraded(d)
		}
		qe := newQueryError(query, err)
		c.log.Warn("neo4j query failed", "query", qe.Query, "code", qe.Code, "classification", qe.Classification)
		return nil, qe
	}
	return rows, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
