// Command server runs a sync-kv server replica: an authoritative
// patch log, optionally persisted to Postgres, reachable over
// websocket, with Redis fanning pokes out to sibling replicas.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"

	docopt "github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tanishqkancharla/sync-kv/internal/config"
	"github.com/tanishqkancharla/sync-kv/internal/logging"
	"github.com/tanishqkancharla/sync-kv/mutators"
	"github.com/tanishqkancharla/sync-kv/server"
	"github.com/tanishqkancharla/sync-kv/storage"
	"github.com/tanishqkancharla/sync-kv/synckv"
	"github.com/tanishqkancharla/sync-kv/transport"
)

const usage = `sync-kv server.

Usage:
    server [--config=<path>] [--no-postgres] [--no-redis] [--no-discovery]

Options:
    -h --help            Show this screen.
    --config=<path>      Path to a YAML config file.
    --no-postgres        Keep the patch log in memory instead of Postgres.
    --no-redis           Don't fan pokes out across server replicas.
    --no-discovery       Don't advertise this server over mDNS.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}
	configPath, _ := opts.String("--config")
	noPostgres, _ := opts.Bool("--no-postgres")
	noRedis, _ := opts.Bool("--no-redis")
	noDiscovery, _ := opts.Bool("--no-discovery")

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		glog.Exitf("loading config: %v", err)
	}

	logger := logging.New()
	registry := synckv.NewRegistry()
	mutators.Register(registry)

	ctx := context.Background()
	serverOpts := []server.Option{server.WithLogger(logger)}

	if !noPostgres {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			glog.Exitf("connecting to postgres: %v", err)
		}
		defer pool.Close()
		log, err := storage.NewPostgresLog(ctx, pool)
		if err != nil {
			glog.Exitf("opening patch log: %v", err)
		}
		serverOpts = append(serverOpts, server.WithLog(log))
		logger.Infof("persisting patch log to postgres")
	}

	srv := server.New(registry, serverOpts...)

	if !noRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			glog.Exitf("connecting to redis: %v", err)
		}
		defer rdb.Close()

		fanout := transport.NewRedisFanout(rdb, cfg.PokeChannel, srv, logger)
		srv.SetBroadcaster(fanout)
		go func() {
			if err := fanout.Listen(ctx); err != nil {
				logger.Warningf("redis fanout listener stopped: %v", err)
			}
		}()
		logger.Infof("fanning pokes out over redis channel %s", cfg.PokeChannel)
	}

	if !noDiscovery {
		mdns, err := registerDiscovery(cfg.DiscoveryName, cfg.ListenAddr)
		if err != nil {
			logger.Warningf("mDNS registration failed: %v", err)
		} else {
			defer mdns.Shutdown()
			logger.Infof("advertising mDNS service %s", cfg.DiscoveryName)
		}
	}

	handler := transport.NewHandler(srv, logger)
	logger.Infof("sync-kv server starting on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, handler.Router()); err != nil {
		glog.Exitf("serve: %v", err)
	}
}

// registerDiscovery advertises this server under serviceName over
// mDNS so a client can find it with --discover instead of a hardcoded
// address.
func registerDiscovery(serviceName, listenAddr string) (*zeroconf.Server, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return zeroconf.Register(
		"sync-kv-"+host,
		serviceName,
		"local.",
		port,
		[]string{"txtv=0"},
		nil,
	)
}
