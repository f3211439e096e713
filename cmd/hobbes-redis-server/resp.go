package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/epokhe/hobbes/core"
)

// serveRESP processes RESP commands from conn in a loop until the client
// disconnects, translating GET/SET/DEL/EXISTS/PING into calls against
// engine. See https://redis.io/docs/reference/protocol-spec/.
func serveRESP(conn io.ReadWriter, engine core.Engine, logger zerolog.Logger) {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	defer writer.Flush() // nolint:errcheck

	for {
		args, err := parseRESP(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			logger.Warn().Err(err).Msg("RESP parse error")
			writer.WriteString(writeError("ERR parse error")) // nolint:errcheck
			continue
		}

		response := executeCommand(engine, args)

		if _, err := writer.WriteString(response); err != nil {
			logger.Warn().Err(err).Msg("write error")
			return
		}
		if err := writer.Flush(); err != nil {
			logger.Warn().Err(err).Msg("flush error")
			return
		}
	}
}

// parseRESP parses one RESP array-of-bulk-strings command, e.g. a SET
// arrives as *3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n.
func parseRESP(reader *bufio.Reader) ([]string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, errors.New("expected array")
	}

	length, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid array length: %w", err)
	}

	args := make([]string, length)
	for i := 0; i < length; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if len(line) == 0 || line[0] != '$' {
			return nil, errors.New("expected bulk string")
		}

		strLen, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid string length: %w", err)
		}
		if strLen == -1 {
			args[i] = ""
			continue
		}

		data := make([]byte, strLen+2)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, err
		}
		args[i] = string(data[:strLen])
	}

	return args, nil
}

// executeCommand dispatches a parsed RESP command onto engine and
// returns a RESP-encoded response.
func executeCommand(engine core.Engine, args []string) string {
	if len(args) == 0 {
		return writeError("ERR empty command")
	}

	switch strings.ToUpper(args[0]) {
	case "PING":
		return writeBulkString("PONG")

	case "SET":
		if len(args) != 3 {
			return writeError("ERR wrong number of arguments for 'SET' command")
		}
		if err := engine.Set([]byte(args[1]), []byte(args[2])); err != nil {
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		return writeSimpleString("OK")

	case "GET":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'GET' command")
		}
		value, err := engine.Get([]byte(args[1]))
		if err != nil {
			if errors.Is(err, core.ErrKeyNotFound) {
				return writeNull()
			}
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		return writeBulkString(string(value))

	case "DEL":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'DEL' command")
		}
		if err := engine.Remove([]byte(args[1])); err != nil {
			if errors.Is(err, core.ErrKeyNotFound) {
				return writeInteger(0)
			}
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		return writeInteger(1)

	case "EXISTS":
		if len(args) != 2 {
			return writeError("ERR wrong number of arguments for 'EXISTS' command")
		}
		if _, err := engine.Get([]byte(args[1])); err != nil {
			if errors.Is(err, core.ErrKeyNotFound) {
				return writeInteger(0)
			}
			return writeError(fmt.Sprintf("ERR %v", err))
		}
		return writeInteger(1)

	default:
		return writeError(fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func writeSimpleString(s string) string { return fmt.Sprintf("+%s\r\n", s) }
func writeBulkString(s string) string   { return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s) }
func writeInteger(i int) string         { return fmt.Sprintf(":%d\r\n", i) }
func writeNull() string                 { return "$-1\r\n" }
func writeError(msg string) string      { return fmt.Sprintf("-%s\r\n", msg) }
