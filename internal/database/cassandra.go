package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"healthbridge-backend/pkg/env"
	"healthbridge-backend/pkg/resilience"
)

// DefaultCassandraQueryTimeout is the default timeout for Cassandra queries
const DefaultCassandraQueryTimeout = 5 * time.Second

const (
	connectAttempts        = 5
	connectInitialInterval = time.Second
	connectMaxInterval     = 10 * time.Second
)

// CassandraDB wraps the gocql Session with context support
type CassandraDB struct {
	Session *gocql.Session
}

// CassandraConfig holds Cassandra connection configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// NewCassandraDB creates a new CassandraDB instance with full configuration
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = gocql.Quorum

	if config.Timeout > 0 {
		cluster.Timeout = config.Timeout
	} else {
		cluster.Timeout = DefaultCassandraQueryTimeout
	}

	if config.Username != "" && config.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	// the cluster is often still warming up when the service starts
	var session *gocql.Session
	backoff := resilience.NewBackoff(connectInitialInterval, connectMaxInterval)
	err := resilience.Retry(context.Background(), backoff, connectAttempts, func() error {
		var cerr error
		session, cerr = cluster.CreateSession()
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

// NewCassandraDBFromEnv creates a CassandraDB from environment variables
func NewCassandraDBFromEnv() (*CassandraDB, error) {
	return NewCassandraDB(&CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "healthbridge_ks"),
		Username: env.GetString("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", DefaultCassandraQueryTimeout),
	})
}

// Close closes the Cassandra session
func (c *CassandraDB) Close() {
	c.Session.Close()
}

// QueryWithContext executes a query bound to the given context so it
// respects cancellation and deadlines
func (c *CassandraDB) QueryWithContext(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

// ExecWithContext executes a query without returning results
func (c *CassandraDB) ExecWithContext(ctx context.Context, stmt string, values ...interface{}) error {
	return c.QueryWithContext(ctx, stmt, values...).Exec()
}
