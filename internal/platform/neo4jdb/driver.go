package neo4jdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	// AccessAutoCommit runs outside a managed transaction; schema statements use it.
	AccessAutoCommit
)

// Driver is the slice of the Neo4j driver the client depends on.
type Driver interface {
	VerifyConnectivity(ctx context.Context) error
	Run(ctx context.Context, mode AccessMode, query string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

type DriverFactory func(cfg Config) (Driver, error)

// NewNeo4jDriver builds a pooled driver from cfg. It does not contact the server.
func NewNeo4jDriver(cfg Config) (Driver, error) {
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	d, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		if cfg.MaxConnectionLifetime > 0 {
			c.MaxConnectionLifetime = cfg.MaxConnectionLifetime
		}
		if cfg.ConnectionAcquisitionTimeout > 0 {
			c.ConnectionAcquisitionTimeout = cfg.ConnectionAcquisitionTimeout
		}
		if cfg.SocketConnectTimeout > 0 {
			c.SocketConnectTimeout = cfg.SocketConnectTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}
	return &neo4jDriver{driver: d, database: cfg.Database}, nil
}

type neo4jDriver struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

func (d *neo4jDriver) Run(ctx context.Context, mode AccessMode, query string, params map[string]any) ([]map[string]any, error) {
	sessMode := neo4j.AccessModeWrite
	if mode == AccessRead {
		sessMode = neo4j.AccessModeRead
	}
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database, AccessMode: sessMode})
	defer session.Close(ctx)

	if mode == AccessAutoCommit {
		res, err := session.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return recordsToMaps(records), nil
	}

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return recordsToMaps(records), nil
	}
	var out any
	var err error
	if mode == AccessRead {
		out, err = session.ExecuteRead(ctx, work)
	} else {
		out, err = session.ExecuteWrite(ctx, work)
	}
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]map[string]any)
	return rows, nil
}

func recordsToMaps(records []*neo4j.Record) []map[string]any {
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		rows = append(rows, rec.AsMap())
	}
	return rows
}
