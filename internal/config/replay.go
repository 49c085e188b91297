package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	RPCURL       string
	Manifest     string
	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	UserRank     string
	Factory      string
	Airdrops     []string
	Out          string
	Errors       string
	Checkpoint   string
	Timestamps   bool
	PGDSN        string
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string

	ArtifactRank    string
	ArtifactFactory string
	ArtifactAirdrop string
	Names           map[string]string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"manifest":      "./data/manifest.json",
		"batch-size":    uint64(2000),
		"out":           "./data/events.jsonl",
		"errors":        "./data/decode_errors.jsonl",
		"checkpoint":    "./data/replay_checkpoint.json",
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"log-level":     "info",
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		RPCURL:       v.GetString("rpc"),
		Manifest:     v.GetString("manifest"),
		FromBlock:    v.GetUint64("from"),
		ToBlock:      v.GetUint64("to"),
		BatchSize:    v.GetUint64("batch-size"),
		UserRank:     v.GetString("user-rank"),
		Factory:      v.GetString("factory"),
		Airdrops:     getStringSlice(v, "airdrops"),
		Out:          v.GetString("out"),
		Errors:       v.GetString("errors"),
		Checkpoint:   v.GetString("checkpoint"),
		Timestamps:   v.GetBool("timestamps"),
		PGDSN:        v.GetString("pg-dsn"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),

		ArtifactRank:    v.GetString("artifact-user-rank"),
		ArtifactFactory: v.GetString("artifact-factory"),
		ArtifactAirdrop: v.GetString("artifact-airdrop"),
		Names:           getNames(v),
	}
	if cfg.BatchSize == 0 {
		return ReplayConfig{}, fmt.Errorf("batch-size must be greater than zero")
	}
	return cfg, nil
}
