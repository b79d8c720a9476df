// Package context defines the operational context passed through a
// simulation run.
package context

import (
	"splitvote/pkg/config"
	"splitvote/pkg/metrics"
)

// OperationContext carries the configuration and the metrics recorder for a
// single simulation run. It is passed down into every phase so that each
// component can take measurements without global state.
type OperationContext struct {
	Config   *config.Config
	Recorder *metrics.Recorder
}

// NewOperationContext creates a context for one run.
func NewOperationContext(cfg *config.Config, recorder *metrics.Recorder) *OperationContext {
	return &OperationContext{
		Config:   cfg,
		Recorder: recorder,
	}
}
