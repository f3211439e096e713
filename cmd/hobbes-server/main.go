// Command hobbes-server runs the hobbes storage engine behind the
// length-prefixed wire protocol spoken by the hobbes client CLI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/epokhe/hobbes/core"
	"github.com/epokhe/hobbes/internal/logging"
	"github.com/epokhe/hobbes/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		addr          = flag.String("addr", "127.0.0.1:4000", "address to listen on, host:port")
		engineName    = flag.String("engine", core.EngineBitcask, "storage engine: bitcask or sled")
		dataDir       = flag.String("data", "./hobbes-data", "store directory")
		rolloverBytes = flag.Int64("rollover-bytes", 0, "active segment rollover threshold in bytes (0 = engine default)")
		compactBytes  = flag.Int64("compact-bytes", 0, "immutable-bytes compaction trigger in bytes (0 = engine default)")
		poolSize      = flag.Int("pool-size", 0, "worker pool size (0 = runtime.NumCPU())")
	)
	flag.Parse()

	logging.Init()
	logger := logging.Component("server")

	engine, err := openEngine(*engineName, *dataDir, *rolloverBytes, *compactBytes)
	if err != nil {
		logger.Error().Err(err).Str("engine", *engineName).Str("data", *dataDir).Msg("failed to open store")
		return 1
	}
	defer engine.Close() // nolint:errcheck

	srv := server.New(*addr, engine, *poolSize, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.ListenAndServe() }()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			return 1
		}
	}

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return 1
	}
	return 0
}

func openEngine(name, dir string, rolloverBytes, compactBytes int64) (core.Engine, error) {
	switch name {
	case core.EngineBitcask:
		var opts []core.Option
		if rolloverBytes > 0 {
			opts = append(opts, core.WithRolloverThreshold(rolloverBytes))
		}
		if compactBytes > 0 {
			opts = append(opts, core.WithCompactThreshold(compactBytes))
		}
		return core.OpenBitcask(dir, opts...)
	case core.EngineSled:
		return core.OpenBolt(dir)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", errUnknownEngine, name)
	}
}

var errUnknownEngine = errors.New("unknown engine")
