package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finagents/loanflow/config"
)

func TestInitDisabledStartsNothing(t *testing.T) {
	p, err := Init(config.TelemetryConfig{Enabled: false}, zap.NewNop())

	require.NoError(t, err)
	assert.Empty(t, p.shutdowns, "no export pipeline when disabled")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownNilSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestServiceVersionFallsBack(t *testing.T) {
	assert.Equal(t, "dev", serviceVersion())
}
