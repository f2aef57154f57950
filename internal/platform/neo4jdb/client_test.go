package neo4jdb

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/newsgraph/internal/platform/logger"
	"github.com/yungbote/newsgraph/internal/platform/retry"
)

type fakeDriver struct {
	mu         sync.Mutex
	verifyErrs []error
	runErr     error
	verifies   int
	runs       []string
	closed     int

	// entered is signalled and gate awaited before each verify when set.
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeDriver) VerifyConnectivity(ctx context.Context) error {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	if len(f.verifyErrs) > 0 {
		err := f.verifyErrs[0]
		f.verifyErrs = f.verifyErrs[1:]
		return err
	}
	return nil
}

func (f *fakeDriver) Run(_ context.Context, _ AccessMode, query string, _ map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, query)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return []map[string]any{{"ok": int64(1)}}, nil
}

func (f *fakeDriver) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeDriver) setRunErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = err
}

type fakeResolver struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *fakeResolver) LookupHost(context.Context, string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []string{"10.0.0.7"}, nil
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	addrs []string
}

func (d *fakeDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, address)
	if d.err != nil {
		return nil, d.err
	}
	a, b := net.Pipe()
	_ = b.Close()
	return a, nil
}

type harness struct {
	client   *Client
	resolver *fakeResolver
	dialer   *fakeDialer
	drivers  []*fakeDriver
	factory  func() *fakeDriver
	phases   []PhaseResult
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{resolver: &fakeResolver{}, dialer: &fakeDialer{}}
	h.factory = func() *fakeDriver { return &fakeDriver{} }
	cfg := DefaultConfig()
	cfg.URI = "neo4j+s://graph.example.io"
	cfg.Password = "secret"
	c, err := New(cfg, logger.Nop(), append([]Option{
		WithResolver(h.resolver),
		WithDialer(h.dialer),
		WithDriverFactory(func(Config) (Driver, error) {
			d := h.factory()
			h.drivers = append(h.drivers, d)
			return d, nil
		}),
		WithHooks(Hooks{OnPhase: func(p PhaseResult) { h.phases = append(h.phases, p) }}),
		WithRetryOptions(retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
	}, opts...)...)
	require.NoError(t, err)
	h.client = c
	return h
}

func TestConnectHappyPathVisitsEveryPhase(t *testing.T) {
	h := newHarness(t)

	diag, err := h.client.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, h.client.State())
	assert.True(t, diag.Connected)
	require.Len(t, diag.Phases, 4)
	for i, p := range []Phase{PhaseDNS, PhaseTCP, PhaseHandshake, PhaseQuery} {
		assert.Equal(t, p, diag.Phases[i].Phase)
		assert.True(t, diag.Phases[i].OK)
	}
	assert.Equal(t, []string{"10.0.0.7:7687"}, h.dialer.addrs)
	assert.Len(t, h.phases, 4)
	assert.NotNil(t, h.client.LastDiagnostics())
}

func TestConnectDNSFailureSkipsTCPProbe(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errors.New("no such host")

	diag, err := h.client.Connect(context.Background())
	require.Error(t, err)

	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, PhaseDNS, cerr.Phase)
	assert.Empty(t, h.dialer.addrs)
	assert.Empty(t, h.drivers)
	assert.Equal(t, StateDisconnected, h.client.State())
	failed, ok := diag.FailedPhase()
	assert.True(t, ok)
	assert.Equal(t, PhaseDNS, failed)
}

func TestConnectTCPFailureSkipsHandshake(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("connection refused")

	_, err := h.client.Connect(context.Background())
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, PhaseTCP, cerr.Phase)
	assert.Empty(t, h.drivers)
	assert.Equal(t, StateDisconnected, h.client.State())
}

func TestHandshakeRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.factory = func() *fakeDriver {
		calls++
		if calls < 3 {
			return &fakeDriver{verifyErrs: []error{errors.New("routing table unavailable")}}
		}
		return &fakeDriver{}
	}

	_, err := h.client.Connect(context.Background())
	require.NoError(t, err)
	require.Len(t, h.drivers, 3)
	assert.Equal(t, 1, h.drivers[0].closed)
	assert.Equal(t, 1, h.drivers[1].closed)
	assert.Equal(t, 0, h.drivers[2].closed)
}

func TestHandshakeAuthFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.factory = func() *fakeDriver {
		return &fakeDriver{verifyErrs: []error{&neo4j.Neo4jError{Code: "Neo.ClientError.Security.Unauthorized", Msg: "bad credentials"}}}
	}

	_, err := h.client.Connect(context.Background())
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, PhaseHandshake, cerr.Phase)
	assert.Len(t, h.drivers, 1)
}

func TestQueryPhaseFailureClosesDriver(t *testing.T) {
	h := newHarness(t)
	h.factory = func() *fakeDriver { return &fakeDriver{runErr: errors.New("server busy")} }

	_, err := h.client.Connect(context.Background())
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, PhaseQuery, cerr.Phase)
	require.Len(t, h.drivers, 1)
	assert.Equal(t, 1, h.drivers[0].closed)
	assert.Len(t, h.drivers[0].runs, DefaultConfig().VerifyRetry.MaxRetries+1)
	assert.Equal(t, StateDisconnected, h.client.State())
}

func TestExecuteFailsFastWhenNotConnected(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Execute(context.Background(), "RETURN 1", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, h.drivers)
}

func TestHealthDegradesAndReconnectRecovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Connect(ctx)
	require.NoError(t, err)

	first := h.drivers[0]
	first.setRunErr(errors.New("connection reset"))
	require.Error(t, h.client.Health(ctx))
	assert.Equal(t, StateDegraded, h.client.State())

	_, err = h.client.Execute(ctx, "RETURN 1", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, h.client.ReconnectIfNeeded(ctx))
	assert.Equal(t, StateConnected, h.client.State())
	require.Len(t, h.drivers, 2)
	assert.Equal(t, 1, first.closed)

	rows, err := h.client.Execute(ctx, "RETURN 1 AS ok", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestHealthRecoversFromDegradedWithoutReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Connect(ctx)
	require.NoError(t, err)

	d := h.drivers[0]
	d.setRunErr(errors.New("blip"))
	_ = h.client.Health(ctx)
	require.Equal(t, StateDegraded, h.client.State())

	d.setRunErr(nil)
	require.NoError(t, h.client.Health(ctx))
	assert.Equal(t, StateConnected, h.client.State())
}

func TestReconnectIfNeededIsNoopWhenHealthy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, h.client.ReconnectIfNeeded(ctx))
	assert.Len(t, h.drivers, 1)
}

func TestReconnectIfNeededConnectsWhenAbsent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client.ReconnectIfNeeded(context.Background()))
	assert.Equal(t, StateConnected, h.client.State())
}

func TestFailedConnectDropsHeldDriver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Connect(ctx)
	require.NoError(t, err)

	h.resolver.err = errors.New("no such host")
	_, err = h.client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, h.client.State())
	assert.Equal(t, 1, h.drivers[0].closed)
	assert.ErrorIs(t, h.client.Health(ctx), ErrNotConnected)

	h.resolver.err = nil
	require.NoError(t, h.client.ReconnectIfNeeded(ctx))
	assert.Equal(t, StateConnected, h.client.State())
	require.Len(t, h.drivers, 2)
	rows, err := h.client.Execute(ctx, "RETURN 1 AS ok", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOnConnectRunsOnEveryConnect(t *testing.T) {
	var (
		h      *harness
		states []State
	)
	h = newHarness(t, WithOnConnect(func(ctx context.Context) {
		states = append(states, h.client.State())
		_, err := h.client.ExecuteAutoCommit(ctx, "CREATE CONSTRAINT entity_name IF NOT EXISTS", nil)
		assert.NoError(t, err)
	}))
	ctx := context.Background()

	// first connection happens lazily, not at startup
	require.NoError(t, h.client.ReconnectIfNeeded(ctx))
	require.Len(t, h.drivers, 1)
	assert.Contains(t, h.drivers[0].runs, "CREATE CONSTRAINT entity_name IF NOT EXISTS")

	h.drivers[0].setRunErr(errors.New("connection reset"))
	require.Error(t, h.client.Health(ctx))
	require.NoError(t, h.client.ReconnectIfNeeded(ctx))
	require.Len(t, h.drivers, 2)
	assert.Contains(t, h.drivers[1].runs, "CREATE CONSTRAINT entity_name IF NOT EXISTS")
	assert.Equal(t, []State{StateConnected, StateConnected}, states)

	// a healthy client does not reapply
	require.NoError(t, h.client.ReconnectIfNeeded(ctx))
	assert.Len(t, states, 2)
}

func TestReconnectOutlivesCancelledFirstCaller(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.factory = func() *fakeDriver { return &fakeDriver{gate: gate, entered: entered} }

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- h.client.ReconnectIfNeeded(first) }()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handshake never started")
	}

	secondErr := make(chan error, 1)
	go func() { secondErr <- h.client.ReconnectIfNeeded(context.Background()) }()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(gate)

	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, StateConnected, h.client.State())
	assert.Len(t, h.drivers, 1)
}

func TestCloseIsIdempotentFromAnyState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.client.Close(ctx))
	require.NoError(t, h.client.Close(ctx))
	assert.Equal(t, StateClosed, h.client.State())

	_, err := h.client.Connect(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.client.Execute(ctx, "RETURN 1", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.client.ReconnectIfNeeded(ctx), ErrClosed)

	h2 := newHarness(t)
	_, err = h2.client.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, h2.client.Close(ctx))
	require.NoError(t, h2.client.Close(ctx))
	assert.Equal(t, 1, h2.drivers[0].closed)
}

func TestExecuteWrapsQueryErrorWithoutParams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Connect(ctx)
	require.NoError(t, err)

	h.drivers[0].setRunErr(&neo4j.Neo4jError{
		Code: "Neo.ClientError.Schema.ConstraintValidationFailed",
		Msg:  "Node(1) already exists with label `Person` and property `name` = 'Jane Private'",
	})
	query := "MERGE (e:Person {name: $name}) RETURN e" + strings.Repeat(" ", 10) + strings.Repeat("x", 400)
	_, err = h.client.Execute(ctx, query, map[string]any{"name": "Jane Private"})

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "Neo.ClientError.Schema.ConstraintValidationFailed", qe.Code)
	assert.Equal(t, "ClientError", qe.Classification)
	assert.LessOrEqual(t, len(qe.Query), maxQueryChars+3)
	assert.NotContains(t, err.Error(), "Jane Private")
	assert.Equal(t, StateConnected, h.client.State())
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		uri       string
		host      string
		port      string
		encrypted bool
		wantErr   bool
	}{
		{uri: "bolt://localhost:7687", host: "localhost", port: "7687"},
		{uri: "neo4j+s://abc.databases.neo4j.io", host: "abc.databases.neo4j.io", port: "7687", encrypted: true},
		{uri: "bolt+ssc://10.1.2.3:7777", host: "10.1.2.3", port: "7777", encrypted: true},
		{uri: "neo4j://db", host: "db", port: "7687"},
		{uri: "http://db:7474", wantErr: true},
		{uri: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.uri)
		if tc.wantErr {
			assert.Error(t, err, tc.uri)
			continue
		}
		require.NoError(t, err, tc.uri)
		assert.Equal(t, tc.host, got.Host, tc.uri)
		assert.Equal(t, tc.port, got.Port, tc.uri)
		assert.Equal(t, tc.encrypted, got.Encrypted, tc.uri)
	}
}

func TestNewRejectsBadURI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URI = "mongodb://nope"
	_, err := New(cfg, logger.Nop())
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, PhaseConfig, cerr.Phase)
}
