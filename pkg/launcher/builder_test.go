package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
)

func TestBuilder_Defaults(t *testing.T) {
	cfg := testConfig(t, true)

	l, err := NewBuilder(cfg).Build()
	require.NoError(t, err)
	defer l.Close()

	assert.Same(t, cfg, l.Config())
	assert.Equal(t, cfg.Timing.PollInterval, l.PollInterval())
	assert.Len(t, l.targets(), 3)
	assert.NoError(t, l.Ready())
}

func TestBuilder_NilArguments(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Launcher, error)
	}{
		{"nil config", func() (*Launcher, error) { return NewBuilder(nil).Build() }},
		{"nil spawner", func() (*Launcher, error) { return NewBuilder(testConfig(t, false)).WithSpawner(nil).Build() }},
		{"nil health", func() (*Launcher, error) { return NewBuilder(testConfig(t, false)).WithHealthChecker(nil).Build() }},
		{"nil transport", func() (*Launcher, error) { return NewBuilder(testConfig(t, false)).WithTransport(nil).Build() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			assert.Error(t, err)
		})
	}
}

func TestBuilder_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Groups[1].ID = cfg.Groups[0].ID

	_, err := NewBuilder(cfg).Build()
	require.Error(t, err)
	assert.True(t, fleeterr.IsErrorCode(err, fleeterr.ErrorCodeInvalidConfiguration))
}

func TestBuilder_MustBuildPanics(t *testing.T) {
	assert.Panics(t, func() { NewBuilder(nil).MustBuild() })
	assert.NotPanics(t, func() {
		l := NewBuilder(testConfig(t, false)).
			WithMetrics(procmgr.NewPrometheusMetricsCollector("")).
			WithProcessLogDir(t.TempDir()).
			MustBuild()
		l.Close()
	})
}
