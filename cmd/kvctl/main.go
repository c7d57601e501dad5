// kvctl sends a single get or put to a cluster running over the ZeroMQ mesh
// and prints the outcome.
//
//	kvctl -config cluster.yaml -key name [-value v]
//
// A -value makes it a put; without one it is a get. The config file must
// carry the cluster's endpoints map.
package main

import (
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"replikv/internal/client"
	"replikv/internal/replica"
	"replikv/internal/transport"
)

func main() {
	configPath := flag.String("config", "cluster.yaml", "Cluster config file with the endpoints map")
	key := flag.String("key", "", "Key to read or write")
	value := flag.String("value", "", "Value to write; omit for a get")
	flag.Parse()

	if *key == "" {
		log.Fatalf("usage: kvctl -config cluster.yaml -key name [-value v]")
	}

	cfg := replica.DefaultConfig()
	cfg.ID = "kvctl"
	if err := replica.LoadConfigFile(*configPath, cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Endpoints) == 0 {
		log.Fatalf("Config %s has no endpoints map; kvctl only talks to ZeroMQ clusters", *configPath)
	}

	replicas := make([]string, 0, len(cfg.Endpoints))
	for id := range cfg.Endpoints {
		replicas = append(replicas, id)
	}
	sort.Strings(replicas)

	// A fresh client id per invocation keeps router identities unique.
	clientID := "kvctl-" + uuid.NewString()[:8]
	tr := transport.NewZMQTransport(clientID, cfg.Endpoints, nil)
	if err := tr.Start(); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}
	defer tr.Stop()

	c := client.New(clientID, replicas, tr)

	if *value != "" {
		if err := c.Put(*key, *value); err != nil {
			log.Fatalf("put failed: %v", err)
		}
		fmt.Printf("OK  %s=%s committed\n", *key, *value)
		return
	}

	v, found, err := c.Get(*key)
	if err != nil {
		log.Fatalf("get failed: %v", err)
	}
	if !found {
		fmt.Printf("MISS  %s not present\n", *key)
		return
	}
	fmt.Printf("OK  %s=%s\n", *key, v)
}
