package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-pagestore/config"
	"github.com/sushant-115/gojodb-pagestore/core/storage_engine/prefetch"
	flushmanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb-pagestore/core/write_engine/memtable"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
	"github.com/sushant-115/gojodb-pagestore/pkg/logger"
	"github.com/sushant-115/gojodb-pagestore/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dbPath := flag.String("db", "", "database file (overrides storage.path)")
	flag.Parse()

	if err := run(*configPath, *dbPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string, args []string) (err error) {
	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = zlogger.Sync() }()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, shutdown(context.Background())) }()

	storageMetrics, err := internaltelemetry.NewStorageMetrics(tel.Meter)
	if err != nil {
		return err
	}
	commandMetrics, err := internaltelemetry.NewCommandMetrics(tel.Meter)
	if err != nil {
		return err
	}

	dm, err := flushmanager.NewDiskManager(cfg.Storage.Path, zlogger.Named("disk_manager"), storageMetrics)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dm.Close()) }()

	sh := &shell{
		dm:        dm,
		freer:     dm,
		backupBPS: cfg.Storage.BackupBytesPerSec,
		out:       os.Stdout,
		tracer:    tel.Tracer,
		metrics:   commandMetrics,
		logger:    zlogger,
	}

	var store memtable.PageStore = dm
	if cfg.Prefetch.Enabled {
		ra, raErr := prefetch.NewReadAheadStore(dm, cfg.Prefetch.Options, zlogger, storageMetrics)
		if raErr != nil {
			return raErr
		}
		defer func() { err = multierr.Append(err, ra.Close()) }()
		store, sh.freer, sh.readAhead = ra, ra, ra
	}

	if sh.pool, err = openPool(cfg.BufferPool, store, zlogger, storageMetrics); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sh.pool.Close()) }()

	if len(args) > 0 {
		if err := sh.execute(context.Background(), args); err != nil && !errors.Is(err, errExit) {
			return err
		}
		return nil
	}
	return repl(sh)
}

func openPool(cfg config.BufferPoolConfig, store memtable.PageStore, zlogger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (bufferPool, error) {
	if cfg.Policy == config.PolicySingleSlot {
		return memtable.NewSingleSlotBufferPool(store, zlogger, metrics)
	}
	return memtable.NewBufferPoolManager(cfg.Capacity, store, zlogger, metrics)
}

func repl(sh *shell) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		items = append(items, readline.PcItem(name))
	}
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".gojodb_pagestore_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojodb> ",
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	fmt.Fprintf(sh.out, "GojoDB page store CLI on %s. Type 'help' for commands, 'exit' to leave.\n", sh.dm.Path())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		err = sh.execute(context.Background(), strings.Fields(line))
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}
