package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "airdropctl",
		Short:        "Tag class airdrop orchestration client",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy UserRank and AirdropFactory and write the manifest",
		RunE:  runDeploy,
	}
	addChainFlags(deployCmd.Flags())
	deployCmd.Flags().String("tag-class", "", "tag class contract address")
	deployCmd.Flags().String("tag", "", "tag contract address")
	deployCmd.Flags().String("plc", "", "PLC token address")
	deployCmd.Flags().String("gds", "", "GDS token address")
	deployCmd.Flags().StringSlice("rank-plc-fees", nil, "per-rank PLC fees (comma-separated)")
	deployCmd.Flags().StringSlice("rank-gds-fees", nil, "per-rank GDS fees (comma-separated)")
	deployCmd.Flags().String("airdrop-fee", "0", "airdrop PLC fee")
	root.AddCommand(deployCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Upgrade rank, create an airdrop, init and activate the participant",
		RunE:  runLifecycle,
	}
	addChainFlags(runCmd.Flags())
	addContractFlags(runCmd.Flags())
	runCmd.Flags().String("participant-key", "", "hex private key of the participant, defaults to the operator")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for exporting state")
	root.AddCommand(runCmd)

	rankCmd := &cobra.Command{
		Use:   "rank",
		Short: "UserRank operations",
	}
	rankUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the signer's rank",
		RunE:  runRankUpgrade,
	}
	addChainFlags(rankUpgradeCmd.Flags())
	addContractFlags(rankUpgradeCmd.Flags())
	rankGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Read ranks, defaults to the signer",
		RunE:  runRankGet,
	}
	addChainFlags(rankGetCmd.Flags())
	addContractFlags(rankGetCmd.Flags())
	rankCmd.AddCommand(rankUpgradeCmd, rankGetCmd)
	root.AddCommand(rankCmd)

	airdropCmd := &cobra.Command{
		Use:   "airdrop",
		Short: "Airdrop factory and instance operations",
	}
	airdropCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an airdrop instance through the factory",
		RunE:  runAirdropCreate,
	}
	airdropInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize users into the airdrop",
		RunE:  runAirdropInit,
	}
	airdropActivateCmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate the signer",
		RunE:  runAirdropActivate,
	}
	airdropStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Read lifecycle state from the chain",
		RunE:  runAirdropStatus,
	}
	for _, cmd := range []*cobra.Command{airdropCreateCmd, airdropInitCmd, airdropActivateCmd, airdropStatusCmd} {
		addChainFlags(cmd.Flags())
		addContractFlags(cmd.Flags())
		airdropCmd.AddCommand(cmd)
	}
	root.AddCommand(airdropCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild lifecycle and rank state from historical logs",
		RunE:  runReplay,
	}
	replayCmd.Flags().String("rpc", "", "RPC URL")
	replayCmd.Flags().String("manifest", "", "deployment manifest path")
	replayCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	replayCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	replayCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	replayCmd.Flags().String("user-rank", "", "UserRank address, defaults to the manifest")
	replayCmd.Flags().String("factory", "", "AirdropFactory address, defaults to the manifest")
	replayCmd.Flags().StringSlice("airdrops", nil, "airdrop addresses (comma-separated)")
	replayCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	replayCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	replayCmd.Flags().String("checkpoint", "./data/replay_checkpoint.json", "checkpoint file path, empty disables")
	replayCmd.Flags().Bool("timestamps", false, "fill block timestamps")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addSchemaFlags(replayCmd.Flags())
	root.AddCommand(replayCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a transaction receipt or raw logs into events",
		RunE:  runDecode,
	}
	decodeCmd.Flags().String("rpc", "", "RPC URL, required with --tx")
	decodeCmd.Flags().String("tx", "", "transaction hash")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("raw", "", "with --tx, also append the receipt's raw logs to this JSONL")
	decodeCmd.Flags().String("out", "./data/decoded_events.jsonl", "output events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	addSchemaFlags(decodeCmd.Flags())
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "RPC URL")
	flags.Uint64("chain-id", 0, "expected chain ID, 0 accepts the node's")
	flags.String("private-key", "", "hex private key of the operator")
	flags.String("keystore", "", "keystore file of the operator")
	flags.String("keystore-password", "", "keystore password")
	flags.String("manifest", "", "deployment manifest path")
	addSchemaFlags(flags)
	flags.Duration("confirm-timeout", 0, "transaction confirmation timeout")
	flags.Duration("poll-interval", 0, "receipt poll interval")
	flags.Int("max-retries", 0, "maximum retry attempts")
	flags.Duration("retry-backoff", 0, "initial retry backoff")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
}

func addSchemaFlags(flags *pflag.FlagSet) {
	flags.String("artifact-user-rank", "", "UserRank artifact JSON")
	flags.String("artifact-factory", "", "AirdropFactory artifact JSON")
	flags.String("artifact-airdrop", "", "Airdrop artifact JSON")
	flags.StringToString("names", nil, "schema name overrides, e.g. factory.created_event=ContractCreated")
}

func addContractFlags(flags *pflag.FlagSet) {
	flags.String("user-rank", "", "UserRank address, defaults to the manifest")
	flags.String("factory", "", "AirdropFactory address, defaults to the manifest")
	flags.String("airdrop", "", "airdrop address, defaults to the latest in the manifest")
	flags.StringSlice("users", nil, "user addresses (comma-separated)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
