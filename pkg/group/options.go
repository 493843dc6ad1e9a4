package group

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMemberPrefix = "member-"
	DefaultCloseTimeout = 5 * time.Second
)

// Option configures a Group.
type Option interface {
	Apply(g *Group)
}

// OptionFunc implements Option.
type OptionFunc func(g *Group)

func (f OptionFunc) Apply(g *Group) {
	f(g)
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(g *Group) {
		if logger != nil {
			g.logger = logger
		}
	})
}

// WithCodec sets the codec used for node payloads. Defaults to JSONCodec.
func WithCodec(codec Codec) Option {
	return OptionFunc(func(g *Group) {
		if codec != nil {
			g.codec = codec
		}
	})
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return OptionFunc(func(g *Group) {
		if metrics != nil {
			g.metrics = metrics
		}
	})
}

// WithMemberPrefix sets the name prefix of registration nodes; the store
// appends the sequence to it.
func WithMemberPrefix(prefix string) Option {
	return OptionFunc(func(g *Group) {
		if prefix != "" {
			g.prefix = prefix
		}
	})
}

// WithCloseTimeout bounds how long Close waits for the worker.
func WithCloseTimeout(timeout time.Duration) Option {
	return OptionFunc(func(g *Group) {
		if timeout > 0 {
			g.closeTimeout = timeout
		}
	})
}

// WithUUID overrides the generated member uuid.
func WithUUID(id string) Option {
	return OptionFunc(func(g *Group) {
		if id != "" {
			g.uuid = id
		}
	})
}
