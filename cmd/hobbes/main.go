// Command hobbes is the client CLI speaking the length-prefixed wire
// protocol against a running hobbes-server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/epokhe/hobbes/internal/wire"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  hobbes [--addr host:port] get <key>")
	fmt.Fprintln(os.Stderr, "  hobbes [--addr host:port] set <key> <value>")
	fmt.Fprintln(os.Stderr, "  hobbes [--addr host:port] rm <key>")
	os.Exit(2)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hobbes", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:4000", "server address, host:port")
	fs.Parse(args) // nolint:errcheck

	rest := fs.Args()
	if len(rest) < 1 {
		usage()
	}

	switch rest[0] {
	case "get":
		if len(rest) != 2 {
			usage()
		}
		return cmdGet(*addr, rest[1])
	case "set":
		if len(rest) != 3 {
			usage()
		}
		return cmdSet(*addr, rest[1], rest[2])
	case "rm":
		if len(rest) != 2 {
			usage()
		}
		return cmdRm(*addr, rest[1])
	default:
		usage()
		return 2
	}
}

func roundTrip(addr string, req wire.Request) (wire.Response, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return wire.Response{}, fmt.Errorf("dial %q: %w", addr, err)
	}
	defer conn.Close() // nolint:errcheck

	if err := wire.WriteRequest(conn, req); err != nil {
		return wire.Response{}, fmt.Errorf("write request: %w", err)
	}

	return wire.ReadResponse(bufio.NewReader(conn))
}

func cmdGet(addr, key string) int {
	resp, err := roundTrip(addr, wire.Request{Verb: wire.Get, Key: []byte(key)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if resp.Status == wire.Err {
		if resp.Message == wire.KeyNotFoundMessage {
			fmt.Println(wire.KeyNotFoundMessage)
			return 0
		}
		fmt.Fprintln(os.Stderr, resp.Message)
		return 1
	}
	fmt.Println(string(resp.Value))
	return 0
}

func cmdSet(addr, key, value string) int {
	resp, err := roundTrip(addr, wire.Request{Verb: wire.Set, Key: []byte(key), Value: []byte(value)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if resp.Status == wire.Err {
		fmt.Fprintln(os.Stderr, resp.Message)
		return 1
	}
	return 0
}

func cmdRm(addr, key string) int {
	resp, err := roundTrip(addr, wire.Request{Verb: wire.Rm, Key: []byte(key)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if resp.Status == wire.Err {
		fmt.Fprintln(os.Stderr, resp.Message)
		return 1
	}
	return 0
}
