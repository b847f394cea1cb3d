//
// Copyright 2026 Blockd authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package daemon wires every other package into a running service: configuration,
// metrics, the event loop, and lifecycle management.
package daemon

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the daemon's tunable knobs, loaded from an optional config file
// (/etc/blockd/blockd.yaml by default) with environment-variable overrides,
// the way the rest of the pack uses viper (BLOCKD_* env prefix).
type Config struct {
	SysRoot string `mapstructure:"sys-root"`
	DevRoot string `mapstructure:"dev-root"`
	MediaRoot string `mapstructure:"media-root"`
	FstabPath string `mapstructure:"fstab-path"`
	MountInfoPath string `mapstructure:"mountinfo-path"`
	MountStorePath string `mapstructure:"mount-store-path"`
	MdstatPath string `mapstructure:"mdstat-path"`

	PollEvery time.Duration `mapstructure:"poll-every"`
	MDSyncEvery time.Duration `mapstructure:"md-sync-every"`
	MountPollEvery time.Duration `mapstructure:"mount-poll-every"`

	MetricsAddr string `mapstructure:"metrics-addr"`

	LogLevel string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("sys-root", "/sys")
	v.SetDefault("dev-root", "/dev")
	v.SetDefault("media-root", "/media")
	v.SetDefault("fstab-path", "/etc/fstab")
	v.SetDefault("mountinfo-path", "/proc/self/mountinfo")
	v.SetDefault("mount-store-path", "/var/lib/blockd/mounted-fs")
	v.SetDefault("mdstat-path", "/proc/mdstat")
	v.SetDefault("poll-every", 2*time.Second)
	v.SetDefault("md-sync-every", 2*time.Second)
	v.SetDefault("mount-poll-every", 1*time.Second)
	v.SetDefault("metrics-addr", ":9160")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
}

// LoadConfig reads path (if non-empty and present) through viper, applying
// BLOCKD_* environment overrides on top. A missing path is not an error:
// the daemon runs on defaults alone, same as udisks2's own optional
// /etc/udisks2/udisks2.conf.
func LoadConfig(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("blockd")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, v, nil
}

// WatchConfig arranges for onChange to be called with a freshly reloaded
// Config every time the backing file is rewritten, via viper's own fsnotify
// integration.
func WatchConfig(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			logrus.Errorf("daemon: reloading config after %s: %v", e.Name, err)
			return
		}
		logrus.Infof("daemon: config reloaded from %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}
