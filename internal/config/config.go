package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "AIRDROP"

// Config holds the settings shared by commands that send transactions.
type Config struct {
	RPCURL           string
	ChainID          uint64
	PrivateKey       string
	Keystore         string
	KeystorePassword string
	// ParticipantKey optionally signs as a second identity in run.
	ParticipantKey string
	Manifest       string

	UserRank string
	Factory  string
	Airdrop  string
	Users    []string

	ArtifactUserRank string
	ArtifactFactory  string
	ArtifactAirdrop  string
	// Names overrides schema names, keyed like "factory.created_event".
	Names map[string]string

	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration

	PGDSN    string
	LogLevel string

	Deploy DeployParams
}

// DeployParams are the raw constructor inputs for the deploy command.
type DeployParams struct {
	TagClass        string
	Tag             string
	PLC             string
	GDS             string
	UserRankPLCFees []string
	UserRankGDSFees []string
	AirdropPLCFee   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"manifest":        "./data/manifest.json",
		"confirm-timeout": 2 * time.Minute,
		"poll-interval":   time.Second,
		"max-retries":     5,
		"retry-backoff":   500 * time.Millisecond,
		"airdrop-fee":     "0",
		"log-level":       "info",
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		ChainID:          v.GetUint64("chain-id"),
		PrivateKey:       v.GetString("private-key"),
		Keystore:         v.GetString("keystore"),
		KeystorePassword: v.GetString("keystore-password"),
		ParticipantKey:   v.GetString("participant-key"),
		Manifest:         v.GetString("manifest"),
		UserRank:         v.GetString("user-rank"),
		Factory:          v.GetString("factory"),
		Airdrop:          v.GetString("airdrop"),
		Users:            getStringSlice(v, "users"),
		ArtifactUserRank: v.GetString("artifact-user-rank"),
		ArtifactFactory:  v.GetString("artifact-factory"),
		ArtifactAirdrop:  v.GetString("artifact-airdrop"),
		Names:            getNames(v),
		ConfirmTimeout:   v.GetDuration("confirm-timeout"),
		PollInterval:     v.GetDuration("poll-interval"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		PGDSN:            v.GetString("pg-dsn"),
		LogLevel:         v.GetString("log-level"),
		Deploy: DeployParams{
			TagClass:        v.GetString("tag-class"),
			Tag:             v.GetString("tag"),
			PLC:             v.GetString("plc"),
			GDS:             v.GetString("gds"),
			UserRankPLCFees: getStringSlice(v, "rank-plc-fees"),
			UserRankGDSFees: getStringSlice(v, "rank-gds-fees"),
			AirdropPLCFee:   v.GetString("airdrop-fee"),
		},
	}
	if cfg.ConfirmTimeout <= 0 {
		return Config{}, fmt.Errorf("confirm-timeout must be positive")
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("airdrop")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

// getNames reads schema name overrides. Config files may nest them per
// contract, flags and the environment pass "key=value" pairs.
func getNames(v *viper.Viper) map[string]string {
	out := make(map[string]string)
	flattenNames(out, "", v.Get("names"))
	if len(out) == 0 {
		return nil
	}
	return out
}

func flattenNames(out map[string]string, prefix string, val interface{}) {
	switch typed := val.(type) {
	case map[string]interface{}:
		for key, item := range typed {
			flattenNames(out, joinKey(prefix, key), item)
		}
	case map[string]string:
		for key, item := range typed {
			out[joinKey(prefix, key)] = item
		}
	case string:
		if prefix != "" {
			out[prefix] = typed
			return
		}
		for _, pair := range splitAndClean(typed) {
			key, value, ok := strings.Cut(pair, "=")
			if ok {
				out[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	case nil:
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprintf("%v", typed)
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
