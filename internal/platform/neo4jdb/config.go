package neo4jdb

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/newsgraph/internal/platform/retry"
)

const defaultBoltPort = "7687"

type Config struct {
	URI      string
	User     string
	Password string
	Database string

	MaxConnectionPoolSize        int
	MaxConnectionLifetime        time.Duration
	ConnectionAcquisitionTimeout time.Duration
	SocketConnectTimeout         time.Duration

	// ProbeTimeout bounds the dns and tcp phases individually.
	ProbeTimeout  time.Duration
	HealthTimeout time.Duration

	ConnectRetry retry.Policy
	VerifyRetry  retry.Policy
}

// DefaultConfig favours slow cold starts over fast failure.
func DefaultConfig() Config {
	return Config{
		URI:                          "bolt://localhost:7687",
		User:                         "neo4j",
		Database:                     "neo4j",
		MaxConnectionPoolSize:        50,
		MaxConnectionLifetime:        30 * time.Minute,
		ConnectionAcquisitionTimeout: 120 * time.Second,
		SocketConnectTimeout:         60 * time.Second,
		ProbeTimeout:                 10 * time.Second,
		HealthTimeout:                10 * time.Second,
		ConnectRetry: retry.Policy{
			MaxRetries:   5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Base:         2,
			Jitter:       true,
		},
		VerifyRetry: retry.Policy{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Base:         2,
			Jitter:       true,
		},
	}
}

type Target struct {
	Scheme    string
	Host      string
	Port      string
	Encrypted bool
}

func (t Target) Address() string {
	return net.JoinHostPort(t.Host, t.Port)
}

var knownSchemes = map[string]bool{
	"neo4j":     false,
	"neo4j+s":   true,
	"neo4j+ssc": true,
	"bolt":      false,
	"bolt+s":    true,
	"bolt+ssc":  true,
}

// ParseTarget validates a connection URI and extracts the probe address.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("neo4jdb: empty uri")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("neo4jdb: parse uri: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	encrypted, ok := knownSchemes[scheme]
	if !ok {
		return Target{}, fmt.Errorf("neo4jdb: unsupported uri scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("neo4jdb: uri has no host")
	}
	port := u.Port()
	if port == "" {
		port = defaultBoltPort
	}
	return Target{Scheme: scheme, Host: host, Port: port, Encrypted: encrypted}, nil
}
