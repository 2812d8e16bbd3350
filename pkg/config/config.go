// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/actyx-go/ax/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an Actyx-style node. It mirrors
// the enumerated configuration keys of the events/swarm/admin/api/licensing
// sections.
type Config struct {
	Swarm struct {
		Topic                    string        `mapstructure:"topic" json:"topic"`
		SwarmKey                 string        `mapstructure:"swarm_key" json:"swarmKey"`
		InitialPeers             []string      `mapstructure:"initial_peers" json:"initialPeers"`
		AnnounceAddresses        []string      `mapstructure:"announce_addresses" json:"announceAddresses"`
		BlockCacheSize           int64         `mapstructure:"block_cache_size" json:"blockCacheSize"`
		BlockCacheCount          int           `mapstructure:"block_cache_count" json:"blockCacheCount"`
		BlockGcInterval          time.Duration `mapstructure:"block_gc_interval" json:"blockGcInterval"`
		PingTimeout              time.Duration `mapstructure:"ping_timeout" json:"pingTimeout"`
		BitswapTimeout           time.Duration `mapstructure:"bitswap_timeout" json:"bitswapTimeout"`
		GossipInterval           time.Duration `mapstructure:"gossip_interval" json:"gossipInterval"`
		DetectionCyclesLowLat    int           `mapstructure:"detection_cycles_low_latency" json:"detectionCyclesLowLatency"`
		DetectionCyclesHighLat   int           `mapstructure:"detection_cycles_high_latency" json:"detectionCyclesHighLatency"`
		Mdns                     bool          `mapstructure:"mdns" json:"mdns"`
		ListenAddr               string        `mapstructure:"listen_addr" json:"listenAddr"`
	} `mapstructure:"swarm" json:"swarm"`

	Admin struct {
		DisplayName     string   `mapstructure:"display_name" json:"displayName"`
		AuthorizedUsers []string `mapstructure:"authorized_users" json:"authorizedUsers"`
		LogLevels       struct {
			Node string `mapstructure:"node" json:"node"`
		} `mapstructure:"log_levels" json:"logLevels"`
	} `mapstructure:"admin" json:"admin"`

	Licensing struct {
		Node string            `mapstructure:"node" json:"node"`
		Apps map[string]string `mapstructure:"apps" json:"apps"`
	} `mapstructure:"licensing" json:"licensing"`

	API struct {
		Events struct {
			ReadOnly bool `mapstructure:"read_only" json:"readOnly"`
		} `mapstructure:"events" json:"events"`
		BindTo string `mapstructure:"bind_to" json:"bindTo"`
	} `mapstructure:"api" json:"api"`

	EventRouting map[string]interface{} `mapstructure:"event_routing" json:"eventRouting"`

	Storage struct {
		WorkingDir string `mapstructure:"working_dir" json:"workingDir"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// Default populates a Config with the defaults a fresh node ships with.
func Default() Config {
	var c Config
	c.Swarm.Topic = "default-topic"
	c.Swarm.BlockCacheSize = 1 << 30
	c.Swarm.BlockCacheCount = 65536
	c.Swarm.BlockGcInterval = 5 * time.Minute
	c.Swarm.PingTimeout = 5 * time.Second
	c.Swarm.BitswapTimeout = 30 * time.Second
	c.Swarm.GossipInterval = 10 * time.Second
	c.Swarm.DetectionCyclesLowLat = 1
	c.Swarm.DetectionCyclesHighLat = 5
	c.Swarm.Mdns = true
	c.Swarm.ListenAddr = "/ip4/0.0.0.0/tcp/4001"
	c.API.BindTo = "0.0.0.0:4454"
	c.Storage.WorkingDir = "."
	c.Logging.Level = "info"
	return c
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig = Default()

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.SetEnvPrefix("AX")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the AX_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("AX_ENV", ""))
}
