package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
system_commands_folder: cmds
groups:
  - id: g1
    executable: bin/worker
    args: ["--group", "g1"]
    endpoints:
      - port: 9001
      - port: 9002
        health_path: /alive
  - id: g2
    executable: worker
    work_dir: /srv/g2
    endpoints:
      - host: 127.0.0.1
        port: 9011
proxy:
  executable: bin/proxy
  endpoints:
    - port: 8080
timing:
  signal_timeout: 2s
  stop_attempts: 5
reviver:
  interval: 10s
  revive_proxy: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "servers.yaml", sampleYAML)

	cfg, err := Load(root, "servers.yaml")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "cmds"), cfg.SystemCommandsFolder)
	assert.Equal(t, []string{"g1", "g2"}, cfg.GroupIDs())

	g1, ok := cfg.Group("g1")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "bin/worker"), g1.Executable)
	assert.Equal(t, root, g1.WorkDir)
	assert.Equal(t, []string{"--group", "g1"}, g1.Args)
	require.Len(t, g1.Endpoints, 2)
	assert.Equal(t, "localhost", g1.Endpoints[0].Host)
	assert.Equal(t, "/health", g1.Endpoints[0].HealthPath)
	assert.Equal(t, "/alive", g1.Endpoints[1].HealthPath)
	assert.Equal(t, 9001, g1.CommandPort())
	assert.Equal(t, "http://localhost:9002/alive", g1.Endpoints[1].HealthURL())

	g2, ok := cfg.Group("g2")
	require.True(t, ok)
	assert.Equal(t, "worker", g2.Executable, "bare executable names stay on PATH")
	assert.Equal(t, "/srv/g2", g2.WorkDir)
	assert.Equal(t, "127.0.0.1:9011", g2.Endpoints[0].Address())

	require.NotNil(t, cfg.Proxy)
	assert.Equal(t, 8080, cfg.Proxy.CommandPort())

	assert.Equal(t, 2*time.Second, cfg.Timing.SignalTimeout)
	assert.Equal(t, 5, cfg.Timing.StopAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Timing.PollInterval, "unset timing falls back to defaults")
	assert.Equal(t, 3, cfg.Timing.StartAttempts)
	assert.Equal(t, 10*time.Second, cfg.Reviver.Interval)
	assert.True(t, cfg.Reviver.ReviveProxy)
}

func TestLoad_JSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "servers.json", `{
  "system_commands_folder": "/tmp/cmds",
  "groups": [{"id": "G", "executable": "/bin/sleep", "endpoints": [{"port": 9001}]}]
}`)

	cfg, err := Load(root, "servers.json")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cmds", cfg.SystemCommandsFolder)
	assert.Nil(t, cfg.Proxy)
	assert.False(t, cfg.Reviver.ReviveProxy, "proxy revival is off unless enabled")
	assert.Equal(t, DefaultTiming(), cfg.Timing)
}

func TestLoad_ProcessEnvKeepsKeyCase(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "servers.yaml", `
system_commands_folder: cmds
groups:
  - id: g1
    executable: worker
    env:
      JAVA_OPTS: "-Xmx1g"
      Pyramid_Level: 3
    endpoints:
      - port: 9001
proxy:
  executable: proxy
  env:
    PROXY_MODE: strict
  endpoints:
    - port: 8080
`},
		{"json", "servers.json", `{
  "system_commands_folder": "cmds",
  "groups": [{"id": "g1", "executable": "worker",
    "env": {"JAVA_OPTS": "-Xmx1g", "Pyramid_Level": "3"},
    "endpoints": [{"port": 9001}]}],
  "proxy": {"executable": "proxy", "env": {"PROXY_MODE": "strict"},
    "endpoints": [{"port": 8080}]}
}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, tt.file, tt.content)

			cfg, err := Load(root, tt.file)
			require.NoError(t, err)

			g1, ok := cfg.Group("g1")
			require.True(t, ok)
			assert.Equal(t, map[string]string{"JAVA_OPTS": "-Xmx1g", "Pyramid_Level": "3"}, g1.Env)
			assert.Equal(t, map[string]string{"PROXY_MODE": "strict"}, cfg.Proxy.Env)
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "servers.yaml", sampleYAML)
	t.Setenv("PYRAMID_TIMING_POLL_INTERVAL", "50ms")

	cfg, err := Load(root, "servers.yaml")
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.PollInterval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "reserved group id",
			content: "groups: [{id: PROXY, executable: w, endpoints: [{port: 1}]}]",
			field:   "groups.id",
		},
		{
			name:    "duplicate group id",
			content: "groups: [{id: a, executable: w, endpoints: [{port: 1}]}, {id: a, executable: w, endpoints: [{port: 2}]}]",
			field:   "groups.id",
		},
		{
			name:    "missing endpoints",
			content: "groups: [{id: a, executable: w}]",
			field:   "groups.a.endpoints",
		},
		{
			name:    "port reused across groups",
			content: "groups: [{id: a, executable: w, endpoints: [{port: 1}]}, {id: b, executable: w, endpoints: [{port: 1}]}]",
			field:   "groups.b.endpoints.port",
		},
		{
			name:    "port out of range",
			content: "groups: [{id: a, executable: w, endpoints: [{port: 70000}]}]",
			field:   "groups.a.endpoints.port",
		},
		{
			name:    "zero stop attempts",
			content: "groups: [{id: a, executable: w, endpoints: [{port: 1}]}]\ntiming: {stop_attempts: 0}",
			field:   "timing.stop_attempts",
		},
		{
			name:    "missing proxy executable",
			content: "proxy: {endpoints: [{port: 1}]}",
			field:   "proxy.executable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "servers.yaml", tt.content)

			_, err := Load(root, "servers.yaml")
			require.Error(t, err)
			assert.True(t, fleeterr.IsErrorCode(err, fleeterr.ErrorCodeInvalidConfiguration), "got %v", err)

			var le *fleeterr.LauncherError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.field, le.Context["field"])
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), "nope.yaml")
	require.Error(t, err)
	assert.True(t, fleeterr.GetErrorCode(err).Fatal())
}

func TestLoad_MissingProjectRoot(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), "servers.yaml")
	require.Error(t, err)
	assert.True(t, fleeterr.IsErrorCode(err, fleeterr.ErrorCodeInvalidConfiguration))
}

func TestDump_RoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "servers.yaml"), []byte(sampleYAML), 0o644))

	cfg, err := Load(root, "servers.yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))

	out := buf.String()
	assert.Contains(t, out, "signal_timeout: 2s")
	assert.Contains(t, out, "health_path: /alive")
	assert.Contains(t, out, "revive_proxy: true")

	dumped := filepath.Join(root, "dumped.yaml")
	require.NoError(t, os.WriteFile(dumped, buf.Bytes(), 0o644))

	again, err := Load(root, "dumped.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg.Groups, again.Groups)
	assert.Equal(t, cfg.Timing, again.Timing)
	assert.Equal(t, cfg.SystemCommandsFolder, again.SystemCommandsFolder)
}
