// clusterdemo boots an in-process cluster over the channel network, runs a
// small put/get workload through the client, and prints the leader's metrics
// snapshot.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"replikv/internal/client"
	"replikv/internal/kv"
	"replikv/internal/replica"
	"replikv/internal/transport"
)

func main() {
	size := flag.Int("size", 3, "Number of replicas in the cluster")
	writes := flag.Int("writes", 100, "Number of puts in the workload")
	debug := flag.Bool("debug", false, "Enable per-message debug logging")
	flag.Parse()

	ids := make([]string, *size)
	for i := range ids {
		ids[i] = fmt.Sprintf("%04d", i)
	}

	network := transport.NewChanNetwork()
	leaderCh := make(chan string, *size)

	metricsByID := make(map[string]*replica.Metrics, *size)
	replicas := make([]*replica.Replica, 0, *size)
	for i, id := range ids {
		cfg := replica.DefaultConfig()
		cfg.ID = id
		cfg.Peers = peersOf(ids, i)
		cfg.Debug = *debug
		cfg.Logger = replica.NewStdLogger(id, *debug)
		metrics := replica.NewMetrics()
		cfg.Metrics = metrics
		metricsByID[id] = metrics

		r, err := replica.New(cfg, network.Endpoint(id))
		if err != nil {
			log.Fatalf("Failed to create replica %s: %v", id, err)
		}
		r.OnRoleChange(func(role replica.Role, term int) {
			if role == replica.Leader {
				leaderCh <- r.ID()
			}
		})
		replicas = append(replicas, r)
	}

	for _, r := range replicas {
		if err := r.Start(); err != nil {
			log.Fatalf("Failed to start replica %s: %v", r.ID(), err)
		}
	}
	defer func() {
		for _, r := range replicas {
			r.Stop()
		}
	}()

	var leader string
	select {
	case leader = <-leaderCh:
	case <-time.After(2 * time.Second):
		log.Fatalf("No leader elected within 2s")
	}
	log.Printf("Leader elected: %s", leader)

	c := client.New("AAAA", ids, network.Endpoint("AAAA"))

	start := time.Now()
	for i := 0; i < *writes; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value := fmt.Sprintf("value-%03d", i)
		if err := c.Put(key, value); err != nil {
			log.Fatalf("put %s failed: %v", key, err)
		}
	}
	elapsed := time.Since(start)
	log.Printf("Committed %d puts in %v (%.0f/s)", *writes, elapsed, float64(*writes)/elapsed.Seconds())

	for i := 0; i < *writes; i++ {
		key := fmt.Sprintf("key-%03d", i)
		want := fmt.Sprintf("value-%03d", i)
		got, found, err := c.Get(key)
		if err != nil {
			log.Fatalf("get %s failed: %v", key, err)
		}
		if !found || got != want {
			log.Fatalf("get %s returned %q (found=%v), want %q", key, got, found, want)
		}
	}
	log.Printf("All %d reads verified", *writes)

	// The commit index propagates with the next heartbeats; give followers a
	// moment before comparing stores.
	time.Sleep(200 * time.Millisecond)
	for _, r := range replicas {
		if store, ok := r.Store().(*kv.Store); ok {
			log.Printf("Replica %s holds %d committed keys", r.ID(), store.Len())
		}
	}

	fmt.Printf("Leader metrics:\n%s\n", metricsByID[leader].String())
}

func peersOf(ids []string, self int) []string {
	peers := make([]string, 0, len(ids)-1)
	for j, id := range ids {
		if j != self {
			peers = append(peers, id)
		}
	}
	return peers
}
