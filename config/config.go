// Package config holds the split-tunnel daemon's static startup
// configuration: cgroup task-file paths, routing table and anchor names,
// and the log level. This is distinct from the Reconciler's runtime state
// (app rules, network scan, tunnel state), which is delivered at runtime by
// the surrounding daemon and is never persisted (see splittun.Reconciler).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kestrelnet/splittun/log"
)

// Config is the daemon's static startup configuration.
type Config struct {
	LogLevel log.LogLevel `yaml:"loglevel"`

	// Cgroup holds the tasks-file paths for the two specialized cgroups and
	// their shared parent (default) cgroup, pre-mounted externally per
	// spec.md §1 (cgroup filesystem setup is out of scope here).
	Cgroup CgroupPaths `yaml:"cgroup"`

	// Routing names the two policy routing tables and the priority used
	// for source-IP rules. Defaults match the original implementation and
	// should rarely need overriding.
	Routing RoutingNames `yaml:"routing"`

	// Anchor names the two netfilter anchor slots this daemon owns.
	Anchor AnchorNames `yaml:"anchor"`
}

type CgroupPaths struct {
	ExclusionsTasks string `yaml:"exclusions-tasks"`
	VpnOnlyTasks    string `yaml:"vpn-only-tasks"`
	ParentTasks     string `yaml:"parent-tasks"`
}

type RoutingNames struct {
	BypassTable  string `yaml:"bypass-table"`
	VpnOnlyTable string `yaml:"vpn-only-table"`
	Priority     int    `yaml:"priority"`
}

type AnchorNames struct {
	TagPackets   string `yaml:"tag-packets"`
	TranslateSrc string `yaml:"translate-src"`
}

// New returns a Config with the same defaults the original split-tunnel
// implementation hard-coded as constants.
func New() *Config {
	return &Config{
		LogLevel: log.InfoLevel,
		Cgroup: CgroupPaths{
			ExclusionsTasks: "/sys/fs/cgroup/net_cls/pia-vpnexclusions/cgroup.procs",
			VpnOnlyTasks:    "/sys/fs/cgroup/net_cls/pia-vpnonly/cgroup.procs",
			ParentTasks:     "/sys/fs/cgroup/net_cls/cgroup.procs",
		},
		Routing: RoutingNames{
			BypassTable:  "pia_bypass",
			VpnOnlyTable: "pia_vpnOnly",
			Priority:     101,
		},
		Anchor: AnchorNames{
			TagPackets:   "100.tagPkts",
			TranslateSrc: "100.transIp",
		},
	}
}

// Init loads and validates the config at configFile, applying defaults for
// anything the file does not set.
func Init(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, errors.New("missing config file")
	}
	if !filepath.IsAbs(configFile) {
		currentDir, _ := os.Getwd()
		configFile = filepath.Join(currentDir, configFile)
	}
	cfg, err := ParseConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the given config is valid. It returns an error otherwise.
func (c *Config) Validate() error {
	switch c.LogLevel.String() {
	case "debug", "info", "warning", "error", "silent":
	default:
		return fmt.Errorf("unsupported loglevel: %s", c.LogLevel.String())
	}
	if c.Cgroup.ExclusionsTasks == "" || c.Cgroup.VpnOnlyTasks == "" || c.Cgroup.ParentTasks == "" {
		return errors.New("cgroup task-file paths must not be empty")
	}
	if c.Routing.BypassTable == "" || c.Routing.VpnOnlyTable == "" {
		return errors.New("routing table names must not be empty")
	}
	return nil
}

// ParseBytes unmarshals data over top of the defaults from New.
func ParseBytes(data []byte) (*Config, error) {
	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses the config file at path.
func ParseConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// Watch calls onChange every time configFile is rewritten on disk, passing
// the freshly parsed Config. Parse failures are logged and skipped rather
// than propagated, since a malformed edit should not tear down an already
// running daemon. The returned func stops the watch and releases the
// underlying inotify watch.
func Watch(configFile string, onChange func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for event := range watcher.Events {
			if filepath.Clean(event.Name) != filepath.Clean(configFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := ParseConfig(configFile)
			if err != nil {
				log.Warnf("config: reload %s: %v", configFile, err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.Warnf("config: reload %s: %v", configFile, err)
				continue
			}
			onChange(cfg)
		}
	}()

	return watcher.Close, nil
}
