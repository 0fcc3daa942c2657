// Package config loads the fleet description: process groups, the reverse
// proxy, the system commands folder and every timing constant used by the
// control plane.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProxyKey is the reserved identity of the reverse proxy. It cannot be used
// as a group id.
const ProxyKey = "PROXY"

// Config holds the fleet configuration
type Config struct {
	SystemCommandsFolder string        `mapstructure:"system_commands_folder" yaml:"system_commands_folder"`
	Groups               []GroupConfig `mapstructure:"groups" yaml:"groups"`
	Proxy                *ProxyConfig  `mapstructure:"proxy" yaml:"proxy,omitempty"`
	Timing               Timing        `mapstructure:"timing" yaml:"timing"`
	Reviver              ReviverConfig `mapstructure:"reviver" yaml:"reviver"`

	// ProjectRoot is the directory relative paths were resolved against
	ProjectRoot string `mapstructure:"-" yaml:"-"`
}

// Endpoint is one service endpoint served by a process
type Endpoint struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	HealthPath string `mapstructure:"health_path" yaml:"health_path"`
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// HealthURL returns the URL probed by health checks
func (e Endpoint) HealthURL() string {
	return "http://" + e.Address() + e.HealthPath
}

// LaunchConfig describes how to spawn one OS process and which endpoints it serves
type LaunchConfig struct {
	Endpoints  []Endpoint        `mapstructure:"endpoints" yaml:"endpoints"`
	Executable string            `mapstructure:"executable" yaml:"executable"`
	Args       []string          `mapstructure:"args" yaml:"args,omitempty"`
	WorkDir    string            `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
	Env        map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// CommandPort is the port whose marker files the process watches. It is the
// port of the first configured endpoint.
func (lc LaunchConfig) CommandPort() int {
	if len(lc.Endpoints) == 0 {
		return 0
	}
	return lc.Endpoints[0].Port
}

// GroupConfig is one worker group: a set of endpoints launched as one OS process
type GroupConfig struct {
	ID           string `mapstructure:"id" yaml:"id"`
	LaunchConfig `mapstructure:",squash" yaml:",inline"`
}

// ProxyConfig is the reverse proxy process
type ProxyConfig struct {
	LaunchConfig `mapstructure:",squash" yaml:",inline"`
}

// Timing collects every tunable delay, timeout and attempt budget
type Timing struct {
	PollInterval         time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SignalTimeout        time.Duration `mapstructure:"signal_timeout" yaml:"signal_timeout"`
	DelayAfterAccept     time.Duration `mapstructure:"delay_after_accept" yaml:"delay_after_accept"`
	StopAttempts         int           `mapstructure:"stop_attempts" yaml:"stop_attempts"`
	StopRetryDelay       time.Duration `mapstructure:"stop_retry_delay" yaml:"stop_retry_delay"`
	KillGraceDelay       time.Duration `mapstructure:"kill_grace_delay" yaml:"kill_grace_delay"`
	StartAttempts        int           `mapstructure:"start_attempts" yaml:"start_attempts"`
	StartupCheckDelay    time.Duration `mapstructure:"startup_check_delay" yaml:"startup_check_delay"`
	SlowStartAttempts    int           `mapstructure:"slow_start_attempts" yaml:"slow_start_attempts"`
	SlowStartDelay       time.Duration `mapstructure:"slow_start_delay" yaml:"slow_start_delay"`
	HealthConnectTimeout time.Duration `mapstructure:"health_connect_timeout" yaml:"health_connect_timeout"`
	HealthReadTimeout    time.Duration `mapstructure:"health_read_timeout" yaml:"health_read_timeout"`
}

// ReviverConfig controls the self-healing loop
type ReviverConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// ReviveProxy makes the reviving loop restart a dead proxy. When false the
	// proxy is never touched by the loop.
	ReviveProxy bool `mapstructure:"revive_proxy" yaml:"revive_proxy"`
}

const (
	defaultHost       = "localhost"
	defaultHealthPath = "/health"
)

// DefaultTiming returns the timing constants used when the file sets none
func DefaultTiming() Timing {
	return Timing{
		PollInterval:         200 * time.Millisecond,
		SignalTimeout:        5 * time.Second,
		DelayAfterAccept:     200 * time.Millisecond,
		StopAttempts:         3,
		StopRetryDelay:       1 * time.Second,
		KillGraceDelay:       1 * time.Second,
		StartAttempts:        3,
		StartupCheckDelay:    1 * time.Second,
		SlowStartAttempts:    10,
		SlowStartDelay:       3 * time.Second,
		HealthConnectTimeout: 1 * time.Second,
		HealthReadTimeout:    3 * time.Second,
	}
}

// Load reads the server configuration file. A relative file name, and every
// relative path inside the file, resolve against projectRoot.
func Load(projectRoot, file string) (*Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fleeterr.ErrInvalidConfiguration("project_root", projectRoot, "cannot resolve project root").WithCause(err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fleeterr.ErrInvalidConfiguration("project_root", root, "project root is not a directory").WithCause(err)
	}

	path := resolve(root, file)

	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("PYRAMID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fleeterr.ErrInvalidConfiguration("server_config_file", path, "cannot read server configuration").WithCause(err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fleeterr.ErrInvalidConfiguration("server_config_file", path, "cannot decode server configuration").WithCause(err)
	}

	if err := cfg.restoreEnvKeys(path); err != nil {
		return nil, fleeterr.ErrInvalidConfiguration("server_config_file", path, "cannot decode process environment").WithCause(err)
	}

	cfg.ProjectRoot = root
	cfg.applyDefaults()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// rawEnv is the part of the server configuration file whose map keys must
// keep their case
type rawEnv struct {
	Groups []struct {
		ID  string            `yaml:"id"`
		Env map[string]string `yaml:"env"`
	} `yaml:"groups"`
	Proxy *struct {
		Env map[string]string `yaml:"env"`
	} `yaml:"proxy"`
}

// restoreEnvKeys re-reads the env sections of a YAML or JSON file. Viper
// lower-cases every map key, and environment variable names are case
// sensitive.
func (c *Config) restoreEnvKeys(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw rawEnv
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	for i := range c.Groups {
		if i < len(raw.Groups) && raw.Groups[i].ID == c.Groups[i].ID && raw.Groups[i].Env != nil {
			c.Groups[i].Env = raw.Groups[i].Env
		}
	}
	if c.Proxy != nil && raw.Proxy != nil && raw.Proxy.Env != nil {
		c.Proxy.Env = raw.Proxy.Env
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	t := DefaultTiming()
	v.SetDefault("system_commands_folder", "commands")
	v.SetDefault("timing.poll_interval", t.PollInterval)
	v.SetDefault("timing.signal_timeout", t.SignalTimeout)
	v.SetDefault("timing.delay_after_accept", t.DelayAfterAccept)
	v.SetDefault("timing.stop_attempts", t.StopAttempts)
	v.SetDefault("timing.stop_retry_delay", t.StopRetryDelay)
	v.SetDefault("timing.kill_grace_delay", t.KillGraceDelay)
	v.SetDefault("timing.start_attempts", t.StartAttempts)
	v.SetDefault("timing.startup_check_delay", t.StartupCheckDelay)
	v.SetDefault("timing.slow_start_attempts", t.SlowStartAttempts)
	v.SetDefault("timing.slow_start_delay", t.SlowStartDelay)
	v.SetDefault("timing.health_connect_timeout", t.HealthConnectTimeout)
	v.SetDefault("timing.health_read_timeout", t.HealthReadTimeout)
	v.SetDefault("reviver.interval", 30*time.Second)
	v.SetDefault("reviver.revive_proxy", false)
}

func (c *Config) applyDefaults() {
	for i := range c.Groups {
		c.Groups[i].LaunchConfig.applyDefaults()
	}
	if c.Proxy != nil {
		c.Proxy.LaunchConfig.applyDefaults()
	}
}

func (lc *LaunchConfig) applyDefaults() {
	for i := range lc.Endpoints {
		if lc.Endpoints[i].Host == "" {
			lc.Endpoints[i].Host = defaultHost
		}
		if lc.Endpoints[i].HealthPath == "" {
			lc.Endpoints[i].HealthPath = defaultHealthPath
		}
	}
}

func (c *Config) resolvePaths() {
	c.SystemCommandsFolder = resolve(c.ProjectRoot, c.SystemCommandsFolder)
	for i := range c.Groups {
		c.Groups[i].LaunchConfig.resolvePaths(c.ProjectRoot)
	}
	if c.Proxy != nil {
		c.Proxy.LaunchConfig.resolvePaths(c.ProjectRoot)
	}
}

func (lc *LaunchConfig) resolvePaths(root string) {
	// Bare names ("java") are looked up on PATH at spawn time.
	if strings.ContainsRune(lc.Executable, filepath.Separator) {
		lc.Executable = resolve(root, lc.Executable)
	}
	if lc.WorkDir == "" {
		lc.WorkDir = root
	} else {
		lc.WorkDir = resolve(root, lc.WorkDir)
	}
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Validate checks the invariants the control plane relies on
func (c *Config) Validate() error {
	if c.SystemCommandsFolder == "" {
		return fleeterr.ErrInvalidConfiguration("system_commands_folder", "", "system commands folder is required")
	}

	seenIDs := make(map[string]bool)
	seenPorts := make(map[int]string)

	checkLaunch := func(owner string, lc LaunchConfig) error {
		if lc.Executable == "" {
			return fleeterr.ErrInvalidConfiguration(owner+".executable", "", "executable is required")
		}
		if len(lc.Endpoints) == 0 {
			return fleeterr.ErrInvalidConfiguration(owner+".endpoints", 0, "at least one endpoint is required")
		}
		for _, ep := range lc.Endpoints {
			if ep.Port < 1 || ep.Port > 65535 {
				return fleeterr.ErrInvalidConfiguration(owner+".endpoints.port", ep.Port, "port out of range")
			}
			if other, dup := seenPorts[ep.Port]; dup {
				return fleeterr.ErrInvalidConfiguration(owner+".endpoints.port", ep.Port,
					fmt.Sprintf("port already used by %s", other))
			}
			seenPorts[ep.Port] = owner
			if !strings.HasPrefix(ep.HealthPath, "/") {
				return fleeterr.ErrInvalidConfiguration(owner+".endpoints.health_path", ep.HealthPath, "health path must start with /")
			}
		}
		return nil
	}

	for _, g := range c.Groups {
		if g.ID == "" {
			return fleeterr.ErrInvalidConfiguration("groups.id", "", "group id is required")
		}
		if g.ID == ProxyKey {
			return fleeterr.ErrInvalidConfiguration("groups.id", g.ID, "group id is reserved for the proxy")
		}
		if seenIDs[g.ID] {
			return fleeterr.ErrInvalidConfiguration("groups.id", g.ID, "duplicate group id")
		}
		seenIDs[g.ID] = true

		if err := checkLaunch("groups."+g.ID, g.LaunchConfig); err != nil {
			return err
		}
	}

	if c.Proxy != nil {
		if err := checkLaunch("proxy", c.Proxy.LaunchConfig); err != nil {
			return err
		}
	}

	if err := c.Timing.validate(); err != nil {
		return err
	}

	if c.Reviver.Interval <= 0 {
		return fleeterr.ErrInvalidConfiguration("reviver.interval", c.Reviver.Interval, "must be positive")
	}

	return nil
}

func (t Timing) validate() error {
	positive := map[string]time.Duration{
		"timing.poll_interval":          t.PollInterval,
		"timing.signal_timeout":         t.SignalTimeout,
		"timing.health_connect_timeout": t.HealthConnectTimeout,
		"timing.health_read_timeout":    t.HealthReadTimeout,
	}
	for field, d := range positive {
		if d <= 0 {
			return fleeterr.ErrInvalidConfiguration(field, d, "must be positive")
		}
	}

	nonNegative := map[string]time.Duration{
		"timing.delay_after_accept":  t.DelayAfterAccept,
		"timing.stop_retry_delay":    t.StopRetryDelay,
		"timing.kill_grace_delay":    t.KillGraceDelay,
		"timing.startup_check_delay": t.StartupCheckDelay,
		"timing.slow_start_delay":    t.SlowStartDelay,
	}
	for field, d := range nonNegative {
		if d < 0 {
			return fleeterr.ErrInvalidConfiguration(field, d, "must not be negative")
		}
	}

	if t.StopAttempts < 1 {
		return fleeterr.ErrInvalidConfiguration("timing.stop_attempts", t.StopAttempts, "must be at least 1")
	}
	if t.StartAttempts < 1 {
		return fleeterr.ErrInvalidConfiguration("timing.start_attempts", t.StartAttempts, "must be at least 1")
	}
	if t.SlowStartAttempts < 0 {
		return fleeterr.ErrInvalidConfiguration("timing.slow_start_attempts", t.SlowStartAttempts, "must not be negative")
	}

	return nil
}

// GroupIDs returns the configured group ids in configuration order
func (c *Config) GroupIDs() []string {
	ids := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		ids = append(ids, g.ID)
	}
	return ids
}

// Group returns the group with the given id
func (c *Config) Group(id string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return GroupConfig{}, false
}
