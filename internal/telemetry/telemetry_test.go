package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvider_Disabled_TracksCountsWithoutExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Logger())

	_, done := p.TrackOperation(context.Background(), "load")
	done(nil)
	_, done2 := p.TrackOperation(context.Background(), "save")
	done2(errors.New("boom"))

	requests, errs := p.Counts()
	require.Equal(t, int64(2), requests)
	require.Equal(t, int64(1), errs)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig_SamplesEverythingInDev(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1.0, cfg.SampleRate)
	require.True(t, cfg.Enabled)
	require.True(t, cfg.Insecure)
}
