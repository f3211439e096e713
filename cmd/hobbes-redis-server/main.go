// Command hobbes-redis-server is a bonus entrypoint exposing the same
// core.Engine over the Redis RESP protocol, so the store can be driven
// with redis-cli/redis-benchmark. It is not the protocol hobbes/
// hobbes-server speak, and does not replace it. The RESP handler talks to
// the byte-keyed core.Engine interface; this command opens its store with
// the native bitcask engine.
package main

import (
	"flag"
	"net"

	"github.com/rs/zerolog"

	"github.com/epokhe/hobbes/core"
	"github.com/epokhe/hobbes/internal/logging"
)

func main() {
	var (
		addr    = flag.String("addr", ":6379", "address to listen on, host:port")
		dataDir = flag.String("data", "./hobbes-redis-data", "store directory")
	)
	flag.Parse()

	logging.Init()
	logger := logging.Component("redis-server")

	engine, err := core.OpenBitcask(*dataDir,
		core.WithRolloverThreshold(10*1024*1024),
		core.WithMergeEnabled(true),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer engine.Close() // nolint:errcheck

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to listen")
	}
	defer listener.Close() // nolint:errcheck

	logger.Info().Str("addr", *addr).Msg("RESP-compatible server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Warn().Err(err).Msg("accept error")
			continue
		}
		go handleConnection(conn, engine, logger)
	}
}

func handleConnection(conn net.Conn, engine core.Engine, logger zerolog.Logger) {
	defer conn.Close() // nolint:errcheck

	handle, err := engine.CloneHandle()
	if err != nil {
		logger.Error().Err(err).Msg("clone handle failed")
		return
	}
	defer handle.Close() // nolint:errcheck

	serveRESP(conn, handle, logger)
}
