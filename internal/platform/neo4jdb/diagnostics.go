package neo4jdb

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration_ns"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Diagnostics is the per-phase report of one Connect call.
type Diagnostics struct {
	Address   string        `json:"address"`
	Encrypted bool          `json:"encrypted"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Connected bool          `json:"connected"`
	Phases    []PhaseResult `json:"phases"`
}

// FailedPhase returns the first failed phase, if any.
func (d *Diagnostics) FailedPhase() (Phase, bool) {
	if d == nil {
		return "", false
	}
	for _, p := range d.Phases {
		if !p.OK {
			return p.Phase, true
		}
	}
	return "", false
}

type ProbeTarget struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Description string `json:"description"`
}

type ProbeResult struct {
	ProbeTarget
	DNSResolved bool          `json:"dns_resolved"`
	IP          string        `json:"ip,omitempty"`
	TCPOK       bool          `json:"tcp_ok"`
	Latency     time.Duration `json:"latency_ns"`
	Error       string        `json:"error,omitempty"`
}

// Diagnose probes each target with a DNS lookup followed by a TCP dial to the resolved IP.
// Targets are probed concurrently; results keep the input order.
func Diagnose(ctx context.Context, resolver Resolver, dialer Dialer, timeout time.Duration, targets []ProbeTarget) []ProbeResult {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	out := make([]ProbeResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t ProbeTarget) {
			defer wg.Done()
			out[i] = probe(ctx, resolver, dialer, timeout, t)
		}(i, t)
	}
	wg.Wait()
	return out
}

func probe(ctx context.Context, resolver Resolver, dialer Dialer, timeout time.Duration, t ProbeTarget) ProbeResult {
	res := ProbeResult{ProbeTarget: t}
	start := time.Now()

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	ip := t.Host
	if net.ParseIP(t.Host) == nil {
		addrs, err := resolver.LookupHost(ctx, t.Host)
		if err != nil || len(addrs) == 0 {
			res.Error = "dns: lookup failed"
			if err != nil {
				res.Error = "dns: " + err.Error()
			}
			res.Latency = time.Since(start)
			return res
		}
		ip = addrs[0]
	}
	res.DNSResolved = true
	res.IP = ip

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(t.Port)))
	if err != nil {
		res.Error = "tcp: " + err.Error()
		res.Latency = time.Since(start)
		return res
	}
	_ = conn.Close()
	res.TCPOK = true
	res.Latency = time.Since(start)
	return res
}

// Diagnose probes the configured database address plus any extra targets.
func (c *Client) Diagnose(ctx context.Context, extra []ProbeTarget) []ProbeResult {
	port, _ := strconv.Atoi(c.target.Port)
	targets := append([]ProbeTarget{{Host: c.target.Host, Port: port, Description: "neo4j"}}, extra...)
	return Diagnose(ctx, c.resolver, c.dialer, c.cfg.ProbeTimeout, targets)
}
