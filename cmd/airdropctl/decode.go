package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagAirdrop/internal/chain"
	"tagAirdrop/internal/config"
	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/decoder"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/pipeline"
	"tagAirdrop/internal/storage"
)

type decodeCounts struct {
	total, decoded, skipped, failed int
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if (cfg.Tx == "") == (cfg.In == "") {
		return fmt.Errorf("exactly one of --tx or --in is required")
	}
	if cfg.Tx != "" && cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required with --tx")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	loaded, err := contracts.LoadSchemas(contracts.ArtifactPaths{
		UserRank:       cfg.ArtifactRank,
		AirdropFactory: cfg.ArtifactFactory,
		Airdrop:        cfg.ArtifactAirdrop,
	}, cfg.Names)
	if err != nil {
		return err
	}
	var schemas []decoder.Schema
	schemas = append(schemas, decoder.SchemasFor(loaded.Rank.ABI, common.Address{})...)
	schemas = append(schemas, decoder.SchemasFor(loaded.Factory.ABI, common.Address{})...)
	schemas = append(schemas, decoder.SchemasFor(loaded.Airdrop.ABI, common.Address{})...)

	outWriter, err := newJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := newJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("decode start",
		zap.String("tx", cfg.Tx),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Int("schemas", len(schemas)),
	)

	var counts decodeCounts
	if cfg.Tx != "" {
		counts, err = decodeReceipt(ctx, cfg, schemas, outWriter, errWriter, logger)
	} else {
		counts, err = decodeFile(cfg.In, schemas, outWriter, errWriter)
	}
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", counts.total),
		zap.Int("decoded", counts.decoded),
		zap.Int("skipped", counts.skipped),
		zap.Int("failed", counts.failed),
	)
	return nil
}

func decodeReceipt(ctx context.Context, cfg config.DecodeConfig, schemas []decoder.Schema, out, errOut *jsonlWriter, logger *zap.Logger) (decodeCounts, error) {
	var counts decodeCounts
	txHash, err := config.ParseHash(cfg.Tx)
	if err != nil {
		return counts, err
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return counts, fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	gateway := chain.NewGateway(chainClient, chain.GatewayConfig{}, logger)
	inspection, err := pipeline.New(gateway, pipeline.Config{}, logger).Inspect(ctx, txHash, schemas)
	if err != nil {
		return counts, err
	}
	logger.Info("receipt",
		zap.String("tx", txHash.Hex()),
		zap.Uint64("status", inspection.Receipt.Status),
		zap.Int("logs", len(inspection.Raw)),
	)

	if cfg.Raw != "" {
		if err := storage.NewJsonlStorage(cfg.Raw).PutLogBatch(inspection.Raw); err != nil {
			return counts, err
		}
	}

	counts.total = len(inspection.Raw)
	for _, event := range inspection.Events {
		if err := out.Write(event); err != nil {
			return counts, err
		}
		counts.decoded++
	}
	for _, failure := range inspection.Errors {
		if err := errOut.Write(failure); err != nil {
			return counts, err
		}
		counts.failed++
	}
	return counts, nil
}

func decodeFile(path string, schemas []decoder.Schema, out, errOut *jsonlWriter) (decodeCounts, error) {
	var counts decodeCounts
	records, err := storage.ReadLogRecords(path)
	if err != nil {
		return counts, err
	}

	for _, record := range records {
		counts.total++
		log, err := decoder.ParseRawLog(record)
		if err != nil {
			counts.failed++
			if err := errOut.Write(model.DecodeError{TxHash: record.TxHash, LogIndex: record.LogIndex, Address: record.Address, Error: err.Error()}); err != nil {
				return counts, err
			}
			continue
		}

		event, err := decoder.DecodeAny(schemas, log)
		switch {
		case errors.Is(err, decoder.ErrSchemaMismatch):
			counts.skipped++
		case err != nil:
			counts.failed++
			if err := errOut.Write(decoder.ErrorRecord(log, err)); err != nil {
				return counts, err
			}
		default:
			counts.decoded++
			if err := out.Write(event); err != nil {
				return counts, err
			}
		}
	}
	return counts, nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string, appendMode bool) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
