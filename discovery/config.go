package discovery

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultTTL             = 10
	DefaultConnectAttempts = 5
)

// Config holds the settings of an EtcdStore.
type Config struct {
	// Endpoints is a list of etcd cluster endpoints
	Endpoints []string
	// Namespace is prepended to every key, so several fleets can share one
	// etcd cluster. Empty means the whole keyspace.
	Namespace string
	// TTL of the session lease in seconds. A process that stops refreshing
	// its lease for that long loses its ephemeral nodes.
	TTL int64
	// DialTimeout for etcd client connections
	DialTimeout time.Duration
	// RequestTimeout bounds every single etcd request
	RequestTimeout time.Duration
	// ConnectAttempts is how many times the initial status check and lease
	// re-grants are tried before giving up.
	ConnectAttempts int
	TLS             *tls.Config
	Username        string
	Password        string
	Logger          *zap.Logger
}

// withDefaults fills the zero fields.
func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Validate checks the configuration, failing on the first problem.
func (c Config) Validate() error {
	switch {
	case len(c.Endpoints) == 0:
		return errors.New("discovery: Endpoints must not be empty")
	case c.TTL < 2:
		return fmt.Errorf("discovery: TTL must be at least 2 seconds, got %d", c.TTL)
	case c.DialTimeout <= 0:
		return errors.New("discovery: DialTimeout must be greater than 0")
	case c.RequestTimeout <= 0:
		return errors.New("discovery: RequestTimeout must be greater than 0")
	case c.ConnectAttempts < 1:
		return errors.New("discovery: ConnectAttempts must be at least 1")
	}
	for _, ep := range c.Endpoints {
		if ep == "" {
			return errors.New("discovery: empty endpoint")
		}
	}
	return nil
}
