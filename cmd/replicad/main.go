// replicad is a single replica of the key-value cluster. It is launched with
// its own id as the first argument and every peer id after it:
//
//	replicad [-config cluster.yaml] [-debug] <id> <peer-id>...
//
// By default the replica attaches to the pre-bound Unix datagram socket named
// by its id (the simulated-network contract). With an endpoints map in the
// config file it runs over a ZeroMQ TCP mesh instead. It runs until
// terminated externally.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"replikv/internal/replica"
	"replikv/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	debug := flag.Bool("debug", false, "Enable per-message debug logging")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		log.Fatalf("usage: replicad [-config file] [-debug] <id> <peer-id>...")
	}

	cfg := replica.DefaultConfig()
	cfg.ID = args[0]
	cfg.Peers = args[1:]

	if *configPath != "" {
		if err := replica.LoadConfigFile(*configPath, cfg); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *debug {
		cfg.Debug = true
	}

	logger := replica.NewStdLogger(cfg.ID, cfg.Debug)
	metrics := replica.NewMetrics()
	cfg.Logger = logger
	cfg.Metrics = metrics

	var tr transport.Transport
	if len(cfg.Endpoints) > 0 {
		tr = transport.NewZMQTransport(cfg.ID, cfg.Endpoints, logger)
	} else {
		tr = transport.NewUnixgramTransport(cfg.ID, cfg.ReceiveQuantum, logger)
	}

	r, err := replica.New(cfg, tr)
	if err != nil {
		log.Fatalf("Failed to create replica: %v", err)
	}
	if err := r.Start(); err != nil {
		log.Fatalf("Failed to start replica: %v", err)
	}

	// Block until an interrupt signal is received.
	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	logger.Infof("Shutting down")
	r.Stop()
	logger.Debugf("Final metrics: %s", metrics.String())
}
