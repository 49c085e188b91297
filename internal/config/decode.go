package config

import "github.com/spf13/pflag"

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	RPCURL          string
	Tx              string
	In              string
	Raw             string
	Out             string
	Errors          string
	ArtifactRank    string
	ArtifactFactory string
	ArtifactAirdrop string
	Names           map[string]string
	LogLevel        string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":       "./data/decoded_events.jsonl",
		"errors":    "./data/decode_errors.jsonl",
		"log-level": "info",
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	return DecodeConfig{
		RPCURL:          v.GetString("rpc"),
		Tx:              v.GetString("tx"),
		In:              v.GetString("in"),
		Raw:             v.GetString("raw"),
		Out:             v.GetString("out"),
		Errors:          v.GetString("errors"),
		ArtifactRank:    v.GetString("artifact-user-rank"),
		ArtifactFactory: v.GetString("artifact-factory"),
		ArtifactAirdrop: v.GetString("artifact-airdrop"),
		Names:           getNames(v),
		LogLevel:        v.GetString("log-level"),
	}, nil
}
