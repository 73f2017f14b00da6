package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rivulet/kvs/internal/client"
	"github.com/rivulet/kvs/internal/kverrors"
)

const defaultAddr = "127.0.0.1:4000"

// splitAddr pulls a trailing "--addr IP:PORT" or "--addr=IP:PORT" out of
// args, wherever it appears, and returns the remaining positional
// arguments alongside the resolved address.
func splitAddr(args []string) (positional []string, addr string) {
	addr = defaultAddr
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--addr" || a == "-addr" {
			if i+1 < len(args) {
				addr = args[i+1]
				i++
			}
			continue
		}
		if v, ok := strings.CutPrefix(a, "--addr="); ok {
			addr = v
			continue
		}
		if v, ok := strings.CutPrefix(a, "-addr="); ok {
			addr = v
			continue
		}
		positional = append(positional, a)
	}
	return positional, addr
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvs-client set KEY VALUE [--addr IP:PORT]\n")
	fmt.Fprintf(os.Stderr, "  kvs-client get KEY [--addr IP:PORT]\n")
	fmt.Fprintf(os.Stderr, "  kvs-client rm KEY [--addr IP:PORT]\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	action := os.Args[1]
	positional, addr := splitAddr(os.Args[2:])

	switch action {
	case "set":
		if len(positional) != 2 {
			usage()
		}
		key, val := positional[0], positional[1]
		c := dial(addr)
		defer c.Close()
		if err := c.Set(key, val); err != nil {
			fail(err)
		}

	case "get":
		if len(positional) != 1 {
			usage()
		}
		key := positional[0]
		c := dial(addr)
		defer c.Close()
		val, ok, err := c.Get(key)
		if err != nil {
			fail(err)
		}
		if !ok {
			fmt.Println("Key not found")
			return
		}
		fmt.Println(val)

	case "rm":
		if len(positional) != 1 {
			usage()
		}
		key := positional[0]
		c := dial(addr)
		defer c.Close()
		if err := c.Remove(key); err != nil {
			if kind, ok := kverrors.KindOf(err); ok && kind == kverrors.KindKeyNotFound {
				fmt.Println("Key not found")
				os.Exit(1)
			}
			fail(err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}

func dial(addr string) *client.Client {
	c, err := client.Dial(addr)
	if err != nil {
		fail(err)
	}
	return c
}

func fail(err error) {
	var opErr *kverrors.OpError
	if errors.As(err, &opErr) {
		fmt.Fprintln(os.Stderr, opErr.Err)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
