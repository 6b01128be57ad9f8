//go:build !linux
// +build !linux

package probe

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/filter"
)

var errUnsupported = errors.New("probe collector requires linux")

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns an error because eBPF is only supported on Linux.
func NewCollector(cfg Config, excluded *filter.Set, out Pusher, log *zap.Logger) (*Collector, error) {
	return nil, errUnsupported
}

// Run always fails on unsupported platforms.
func (c *Collector) Run(ctx context.Context) error {
	return errUnsupported
}

// Stats returns zero counters.
func (c *Collector) Stats() Stats {
	return Stats{}
}

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
