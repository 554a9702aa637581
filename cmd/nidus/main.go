// Command nidus runs the field capture core.
//
//	nidus serve   -config nidus.yaml      sync daemon with /metrics, /healthz, /readyz
//	nidus record  -config nidus.yaml      capture one recording from JSON events on stdin
//	nidus pending -config nidus.yaml      list revisions waiting for upload
//	nidus extract [-tags a,b] [text...]   print the knowledge graph of a transcript
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/config"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/knowledge"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/memstore"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/postgres"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/sqlite"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/transcript/phonetic"
)

// command is one subcommand. run receives the arguments after the
// subcommand name.
type command struct {
	summary string
	run     func(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error
}

var commands = map[string]command{
	"serve":   {"run the upload syncer and telemetry listener", runServe},
	"record":  {"capture one recording from JSON events on stdin", runRecord},
	"pending": {"list revisions waiting for upload", runPending},
	"extract": {"print the knowledge graph of a transcript", runExtract},
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	name := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "nidus: unknown command %q\n", name)
		usage(os.Stderr)
		return 2
	}

	ctx, stop := signalContext()
	defer stop()

	err := cmd.run(ctx, args, os.Stdin, os.Stdout)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "nidus: %v (copy configs/example.yaml to get started)\n", err)
	default:
		fmt.Fprintf(os.Stderr, "nidus: %s: %v\n", name, err)
	}
	return 1
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: nidus <command> [flags]")
	for _, name := range []string{"serve", "record", "pending", "extract"} {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ── Wiring ───────────────────────────────────────────────────────────────────

// newLogger installs a text logger on stderr as the slog default. The
// returned LevelVar lets a config reload change verbosity in place.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, lvl
}

// newRegistry registers the built-in store drivers.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.Register(config.DriverMemory, func(context.Context, config.StoreConfig) (revision.Backend, error) {
		return memstore.New(), nil
	})
	reg.Register(config.DriverSQLite, func(_ context.Context, cfg config.StoreConfig) (revision.Backend, error) {
		b, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	reg.Register(config.DriverPostgres, func(ctx context.Context, cfg config.StoreConfig) (revision.Backend, error) {
		b, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	return reg
}

// openStore opens the configured backend and wraps it in a revision store.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*revision.Store, error) {
	backend, err := newRegistry().Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	log.Debug("revision store opened", "driver", cfg.Store.Driver)
	return revision.NewStore(backend,
		revision.WithCarryBreadcrumbs(cfg.Store.CarryBreadcrumbs),
		revision.WithLogger(log),
	), nil
}

// newExtractor builds a knowledge extractor, with phonetic genus matching
// when enabled.
func newExtractor(cfg config.ExtractionConfig) *knowledge.Extractor {
	if !cfg.FuzzyGenus {
		return knowledge.NewExtractor()
	}
	return knowledge.NewExtractor(knowledge.WithVocabularyMatcher(phonetic.New(
		phonetic.WithPhoneticThreshold(cfg.PhoneticThreshold),
		phonetic.WithFuzzyThreshold(cfg.FuzzyThreshold),
	)))
}

// loadConfig parses the -config flag of fs and loads the file.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	path := fs.String("config", "nidus.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, "", err
	}
	return cfg, *path, nil
}
