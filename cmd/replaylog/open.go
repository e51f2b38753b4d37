package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"replaylog/pkg/codec"
	"replaylog/pkg/compression"
	"replaylog/pkg/config"
	"replaylog/pkg/metrics"
	"replaylog/pkg/pebblelog"
	"replaylog/pkg/replay"
	"replaylog/pkg/segment"
	"replaylog/pkg/store"
	"replaylog/pkg/wal"
)

type closableLog interface {
	segment.Log
	Close() error
}

func openLog(cfg config.LogConfig) (closableLog, error) {
	roll, err := segment.ParseRollCycle(cfg.RollCycle)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendPebble:
		return pebblelog.Open(pebblelog.Options{
			Dir:        cfg.Path,
			RollCycle:  roll,
			SyncWrites: cfg.SyncWrites,
		})
	case config.BackendWAL, "":
		return wal.Open(wal.Options{
			Dir:           cfg.Path,
			RollCycle:     roll,
			SyncWrites:    cfg.SyncWrites,
			MaxRecordSize: cfg.MaxRecordSize,
		})
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

func storeOptions(cfg config.Config, reg metrics.Collector) []store.Option {
	policy := store.ReadErrorSilent
	if cfg.Retrieval.PropagateReadErrors {
		policy = store.ReadErrorPropagate
	}
	return []store.Option{
		store.WithDemandPoll(cfg.Retrieval.DemandPoll.Std()),
		store.WithDataPoll(cfg.Retrieval.DataPoll.Std()),
		store.WithReadErrorPolicy(policy),
		store.WithMetrics(reg),
		store.WithLogger(slog.Default()),
	}
}

func replayOptions(cfg config.Config) []replay.Option {
	return []replay.Option{replay.WithEmptyLoopBackoff(cfg.Replay.EmptyLoopBackoff.Std())}
}

func recordCodec(cfg config.LogConfig) (codec.Codec[json.RawMessage], *compression.Compressor, error) {
	c, err := codec.ByName[json.RawMessage](cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, nil, err
	}
	comp, err := compression.New(algo)
	if err != nil {
		return nil, nil, err
	}
	return codec.Compressed(c, comp), comp, nil
}

// journal bundles the opened log with the journal of JSON documents on top of it.
type journal struct {
	*store.Journal[json.RawMessage]
	log  closableLog
	comp *compression.Compressor
}

func openJournal(cfg config.Config, reg metrics.Collector) (*journal, error) {
	c, comp, err := recordCodec(cfg.Log)
	if err != nil {
		return nil, err
	}

	log, err := openLog(cfg.Log)
	if err != nil {
		comp.Close()
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	j, err := store.NewJournal(log, c, storeOptions(cfg, reg)...)
	if err != nil {
		comp.Close()
		_ = log.Close()
		return nil, err
	}

	slog.Info("journal opened",
		"backend", cfg.Log.Backend,
		"path", cfg.Log.Path,
		"roll_cycle", cfg.Log.RollCycle,
		"codec", cfg.Log.Codec,
		"compression", comp.Algorithm(),
	)
	return &journal{Journal: j, log: log, comp: comp}, nil
}

func (j *journal) Close() error {
	start := time.Now()
	err := j.log.Close()
	j.comp.Close()
	slog.Debug("journal closed", "took", time.Since(start), "error", err)
	return err
}
