// Package service assembles the inspector's components from configuration
// and owns their shutdown order.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/network"
	"github.com/xkilldash9x/checkout-inspector/internal/orchestrator"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
	"github.com/xkilldash9x/checkout-inspector/internal/version"
)

const shutdownTimeout = 30 * time.Second

// Components holds every initialized service a scan needs.
type Components struct {
	Host         schemas.BrowserHost
	Store        schemas.ResultStore
	HTTPClient   *network.Client
	Profile      *sdk.Profile
	Registry     *core.Registry
	Engine       *core.Engine
	Resolver     *version.Resolver
	Orchestrator *orchestrator.Orchestrator

	logger *zap.Logger
}

// Shutdown releases the browser first, then the store.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Host != nil {
		// A fresh context so shutdown completes even after the caller's was cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Host.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser shut down.")
		}
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing result store.", zap.Error(err))
		} else {
			logger.Debug("Result store closed.")
		}
	}

	logger.Debug("All components shut down.")
}
