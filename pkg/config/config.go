package config

// Package config provides a reusable loader for Basalt configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Basalt-Foundation/basalt/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a Basalt node. It mirrors
// the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        uint32   `mapstructure:"chain_id" json:"chain_id"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		MaxPeersPerIP  int      `mapstructure:"max_peers_per_ip" json:"max_peers_per_ip"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		BlockTimeMS      uint64 `mapstructure:"block_time_ms" json:"block_time_ms"`
		ViewTimeoutMS    uint64 `mapstructure:"view_timeout_ms" json:"view_timeout_ms"`
		MaxPipelineDepth int    `mapstructure:"max_pipeline_depth" json:"max_pipeline_depth"`
	} `mapstructure:"consensus" json:"consensus"`

	Staking struct {
		MinimumValidatorStake string `mapstructure:"minimum_validator_stake" json:"minimum_validator_stake"`
		ValidatorSetSize      int    `mapstructure:"validator_set_size" json:"validator_set_size"`
		EpochLength           uint64 `mapstructure:"epoch_length" json:"epoch_length"`
		UnbondingBlocks       uint64 `mapstructure:"unbonding_blocks" json:"unbonding_blocks"`
	} `mapstructure:"staking" json:"staking"`

	Execution struct {
		BlockGasLimit            uint64 `mapstructure:"block_gas_limit" json:"block_gas_limit"`
		Elasticity               uint64 `mapstructure:"elasticity" json:"elasticity"`
		BaseFeeChangeDenominator uint64 `mapstructure:"base_fee_change_denominator" json:"base_fee_change_denominator"`
		InitialBaseFee           string `mapstructure:"initial_base_fee" json:"initial_base_fee"`
	} `mapstructure:"execution" json:"execution"`

	Mempool struct {
		GlobalCap    int `mapstructure:"global_cap" json:"global_cap"`
		PerSenderCap int `mapstructure:"per_sender_cap" json:"per_sender_cap"`
	} `mapstructure:"mempool" json:"mempool"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Keystore struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"keystore" json:"keystore"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // also consult process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the BASALT_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("BASALT_ENV", ""))
}
