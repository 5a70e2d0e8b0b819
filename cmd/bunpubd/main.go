package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kartikbazzad/bunpub/internal/config"
	"github.com/kartikbazzad/bunpub/internal/gateway"
	"github.com/kartikbazzad/bunpub/internal/livequery"
	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/metrics"
	"github.com/kartikbazzad/bunpub/internal/publish"
	"github.com/kartikbazzad/bunpub/internal/session"
	"github.com/kartikbazzad/bunpub/internal/store"
)

func main() {
	addr := flag.String("addr", ":3002", "HTTP listen address")
	persistPath := flag.String("persist", "", "Sqlite file for document persistence (empty = memory only)")
	logLevel := flag.String("log-level", "info", "Log level: debug | info | warn | error")
	corsOrigin := flag.String("cors-origin", "*", "Allowed CORS origin")
	queueDepth := flag.Int("queue-depth", 256, "Per-session event queue depth")
	maxSessions := flag.Int("max-sessions", 1024, "Max concurrent subscription sessions (0 = unlimited)")
	writeRPM := flag.Int("write-rpm", 0, "Document writes per minute per client IP (0 = unlimited)")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.HTTP.Addr = *addr
	cfg.HTTP.CORSOrigin = *corsOrigin
	cfg.HTTP.WriteRPM = *writeRPM
	cfg.Session.QueueDepth = *queueDepth
	cfg.Session.MaxSessions = *maxSessions
	cfg.Store.PersistPath = *persistPath
	cfg.Log.Level = *logLevel

	log := logger.Default()
	log.SetLevel(logger.ParseLevel(cfg.Log.Level))

	var st *store.Store
	var err error
	if cfg.Store.PersistPath != "" {
		st, err = store.Open(cfg.Store.PersistPath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
			os.Exit(1)
		}
	} else {
		st = store.New(log)
	}
	defer st.Close()

	registry := session.NewRegistry()
	registerBuiltins(registry, st)

	srv := gateway.NewServer(cfg, st, registry, metrics.NewCollector(), log)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start gateway: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := srv.Stop(); err != nil {
		log.Error("shutdown: %v", err)
	}
}

// registerBuiltins installs the two generic publications every deployment
// gets: a whole collection by name, and a filtered collection. Composite
// trees are registered by embedders through session.Registry.
func registerBuiltins(registry *session.Registry, st *store.Store) {
	// args: [collection].
	registry.Publish("collection", &publish.Publication{
		Find: func(args ...interface{}) (livequery.Cursor, error) {
			name, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return st.Collection(name).Find(store.All()), nil
		},
	})

	// args: [collection, field, op, value], op per store.Where.
	registry.Publish("query", &publish.Publication{
		Find: func(args ...interface{}) (livequery.Cursor, error) {
			name, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			field, err := stringArg(args, 1)
			if err != nil {
				return nil, err
			}
			op, err := stringArg(args, 2)
			if err != nil {
				return nil, err
			}
			if len(args) < 4 {
				return nil, fmt.Errorf("query publication needs 4 arguments, got %d", len(args))
			}
			return st.Collection(name).Find(store.Where(field, op, args[3])), nil
		},
	})
}

func stringArg(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string", i)
	}
	return s, nil
}
