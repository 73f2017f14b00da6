package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rivulet/kvs/internal/boltstore"
	"github.com/rivulet/kvs/internal/engine"
	"github.com/rivulet/kvs/internal/engineconfig"
	"github.com/rivulet/kvs/internal/pool"
	"github.com/rivulet/kvs/internal/server"
	"github.com/rivulet/kvs/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvs-server -path <data-dir> [-addr <host:port>] [-engine kvs|sled] [-workers naive|shared|stealing]\n")
	os.Exit(1)
}

func main() {
	var (
		dbPath     = flag.String("path", "", "path to data directory")
		addr       = flag.String("addr", "127.0.0.1:4000", "listen address")
		engineName = flag.String("engine", "", "storage engine: kvs (default) or sled")
		workers    = flag.String("workers", "shared", "worker pool: naive, shared, or stealing")
		poolSize   = flag.Int("pool-size", 16, "number of workers in the pool")
		fsync      = flag.Bool("fsync", false, "fsync the active segment on every write (native engine only)")
	)
	flag.Parse()

	if *dbPath == "" {
		usage()
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	resolved, err := engineconfig.Resolve(*dbPath, *engineName)
	if err != nil {
		sugar.Fatalw("failed to resolve engine", "err", err)
	}

	eng, closeEngine, err := openEngine(*dbPath, resolved, *fsync, sugar)
	if err != nil {
		sugar.Fatalw("failed to open engine", "err", err)
	}

	workerPool, err := newPool(*workers, *poolSize)
	if err != nil {
		sugar.Fatalw("failed to build worker pool", "err", err)
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		sugar.Fatalw("failed to listen", "addr", *addr, "err", err)
	}

	srv := server.New(eng, listener, workerPool, sugar)
	sugar.Infow("listening", "addr", srv.Addr().String(), "engine", resolved)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("received signal, shutting down", "signal", sig.String())
	case err := <-serveErrCh:
		if err != nil {
			sugar.Errorw("accept loop exited", "err", err)
		}
	}

	if err := srv.Shutdown(); err != nil {
		sugar.Errorw("shutdown error", "err", err)
	}
	if err := closeEngine(); err != nil {
		sugar.Errorw("engine close error", "err", err)
	}
}

func openEngine(dbPath, resolved string, fsync bool, log *zap.SugaredLogger) (store.Engine, func() error, error) {
	switch resolved {
	case engineconfig.Sled:
		if err := os.MkdirAll(dbPath, 0o755); err != nil {
			return nil, nil, err
		}
		db, err := boltstore.Open(dbPath + "/sled.db")
		if err != nil {
			return nil, nil, err
		}
		return store.NewSled(db), db.Close, nil
	default:
		db, err := engine.Open(dbPath, engine.WithFsync(fsync), engine.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return store.NewNative(db), db.Close, nil
	}
}

func newPool(kind string, size int) (pool.Pool, error) {
	switch kind {
	case "naive":
		return pool.NewNaive(size), nil
	case "stealing":
		return pool.NewStealing(size)
	default:
		return pool.NewSharedQueue(size), nil
	}
}
