// Command client runs a sync-kv client replica: it discovers a server
// over mDNS (or dials one directly), keeps a local database and
// optimistic queue in sync with it, and exposes mutate/watch/get over
// a line-oriented stdin/stdout protocol for scripting.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	docopt "github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"github.com/tanishqkancharla/sync-kv/client"
	"github.com/tanishqkancharla/sync-kv/internal/config"
	"github.com/tanishqkancharla/sync-kv/internal/logging"
	"github.com/tanishqkancharla/sync-kv/mutators"
	"github.com/tanishqkancharla/sync-kv/synckv"
	"github.com/tanishqkancharla/sync-kv/transport"
)

const usage = `sync-kv client.

Usage:
    client [--config=<path>] [--server=<url>] [--discover]

Options:
    -h --help           Show this screen.
    --config=<path>      Path to a YAML config file.
    --server=<url>       Server websocket URL, overriding discovery/config.
    --discover           Discover a server over mDNS instead of dialing directly.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}
	configPath, _ := opts.String("--config")
	serverFlag, _ := opts.String("--server")
	discover, _ := opts.Bool("--discover")

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		glog.Exitf("loading config: %v", err)
	}

	serverURL := cfg.ServerURL
	if serverFlag != "" {
		serverURL = serverFlag
	} else if discover {
		discovered, err := discoverServer(cfg.DiscoveryName)
		if err != nil {
			glog.Exitf("discovering server: %v", err)
		}
		serverURL = discovered
	}

	logger := logging.New()
	registry := synckv.NewRegistry()
	mutators.Register(registry)

	clientID := uuid.NewString()
	conn, err := transport.Dial(serverURL, clientID, logger)
	if err != nil {
		glog.Exitf("dialing server: %v", err)
	}
	defer conn.Close()

	cli := client.New(clientID, registry, conn, client.WithLogger(logger))
	conn.SetPokeHandler(cli.Poke)

	cli.Watch(mutators.ValueKey, func(value any, ok bool) {
		fmt.Printf("value = %v (present=%v)\n", value, ok)
	})

	logger.Infof("connected to %s as %s", serverURL, clientID)
	runREPL(cli)
}

// runREPL reads "add <n>", "addTodo <text>", "toggleTodo <index>" and
// "get <key>" lines from stdin and drives cli accordingly.
func runREPL(cli *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "add":
			if len(fields) < 2 {
				fmt.Println("usage: add <delta>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad integer:", fields[1])
				continue
			}
			cli.Mutate("add", n)
		case "addTodo":
			cli.Mutate("addTodo", strings.Join(fields[1:], " "))
		case "toggleTodo":
			if len(fields) < 2 {
				fmt.Println("usage: toggleTodo <index>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad integer:", fields[1])
				continue
			}
			cli.Mutate("toggleTodo", n)
		case "get":
			if len(fields) < 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			v, ok := cli.Get(fields[1])
			fmt.Printf("%v (present=%v)\n", v, ok)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

// discoverServer browses serviceName over mDNS for up to 10 seconds
// and returns the first server it finds, addressed as a websocket URL.
func discoverServer(serviceName string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			found <- fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port)
			return
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return "", err
	}

	select {
	case url := <-found:
		return url, nil
	case <-ctx.Done():
		return "", fmt.Errorf("no server found advertising %s", serviceName)
	}
}
