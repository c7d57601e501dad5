package replica

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"replikv/internal/wire"
)

// Config holds the replica configuration.
type Config struct {
	// ID is the replica's identifier in the cluster.
	ID string

	// Peers are the identifiers of every other replica.
	Peers []string

	// MinElectionTimeout and MaxElectionTimeout bound the uniform random
	// draw taken at every timer reset. A fresh draw per reset, rather than a
	// fixed jitter, is what breaks symmetric split votes.
	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration

	// HeartbeatInterval is the leader's append cadence. It must sit
	// comfortably below MinElectionTimeout or followers will keep starting
	// elections under a healthy leader.
	HeartbeatInterval time.Duration

	// ReceiveQuantum bounds each blocking wait on the transport.
	ReceiveQuantum time.Duration

	// Endpoints optionally maps replica ids to TCP endpoints. When set, the
	// replica daemon runs over the ZeroMQ mesh instead of the simulator
	// socket.
	Endpoints map[string]string

	// Debug enables per-message logging.
	Debug bool

	// Logger receives the replica's log output.
	Logger Logger

	// Metrics receives performance metrics.
	Metrics MetricsCollector
}

// DefaultConfig returns a Config with the reference timing values: election
// timeout drawn from [250ms, 500ms], heartbeats at a tenth of the minimum
// timeout, and a 100ms transport wait quantum.
func DefaultConfig() *Config {
	return &Config{
		MinElectionTimeout: 250 * time.Millisecond,
		MaxElectionTimeout: 500 * time.Millisecond,
		HeartbeatInterval:  25 * time.Millisecond,
		ReceiveQuantum:     100 * time.Millisecond,
		Logger:             noopLogger{},
		Metrics:            noopMetrics{},
	}
}

// validateConfig validates the replica configuration.
func validateConfig(config *Config) error {
	if config.ID == "" {
		return fmt.Errorf("ID is required")
	}
	if config.ID == wire.Broadcast {
		return fmt.Errorf("ID %q is reserved for broadcast", wire.Broadcast)
	}
	for _, peer := range config.Peers {
		if peer == config.ID {
			return fmt.Errorf("peer list must not contain the replica's own ID")
		}
	}
	if config.MinElectionTimeout <= 0 {
		return fmt.Errorf("MinElectionTimeout must be positive")
	}
	if config.MaxElectionTimeout < config.MinElectionTimeout {
		return fmt.Errorf("MaxElectionTimeout must be at least MinElectionTimeout")
	}
	if config.HeartbeatInterval <= 0 || config.HeartbeatInterval >= config.MinElectionTimeout {
		return fmt.Errorf("HeartbeatInterval must be positive and below MinElectionTimeout")
	}
	if config.ReceiveQuantum <= 0 {
		return fmt.Errorf("ReceiveQuantum must be positive")
	}
	return nil
}

// electionTimeout draws a fresh uniform random timeout in
// [MinElectionTimeout, MaxElectionTimeout].
func (c *Config) electionTimeout() time.Duration {
	span := int64(c.MaxElectionTimeout - c.MinElectionTimeout)
	return c.MinElectionTimeout + time.Duration(rand.Int63n(span+1))
}

// fileConfig is the YAML shape of the optional config file. Every field is an
// overlay: absent fields keep their defaults.
type fileConfig struct {
	MinElectionTimeoutMs int               `yaml:"min_election_timeout_ms"`
	MaxElectionTimeoutMs int               `yaml:"max_election_timeout_ms"`
	HeartbeatIntervalMs  int               `yaml:"heartbeat_interval_ms"`
	ReceiveQuantumMs     int               `yaml:"receive_quantum_ms"`
	Debug                bool              `yaml:"debug"`
	Endpoints            map[string]string `yaml:"endpoints"`
}

// LoadConfigFile overlays the YAML file at path onto config.
func LoadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	fc := fileConfig{}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	if fc.MinElectionTimeoutMs > 0 {
		config.MinElectionTimeout = time.Duration(fc.MinElectionTimeoutMs) * time.Millisecond
	}
	if fc.MaxElectionTimeoutMs > 0 {
		config.MaxElectionTimeout = time.Duration(fc.MaxElectionTimeoutMs) * time.Millisecond
	}
	if fc.HeartbeatIntervalMs > 0 {
		config.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalMs) * time.Millisecond
	}
	if fc.ReceiveQuantumMs > 0 {
		config.ReceiveQuantum = time.Duration(fc.ReceiveQuantumMs) * time.Millisecond
	}
	if fc.Debug {
		config.Debug = true
	}
	if len(fc.Endpoints) > 0 {
		config.Endpoints = fc.Endpoints
	}
	return nil
}

// StdLogger writes through the standard log package with a replica prefix.
type StdLogger struct {
	prefix string
	debug  bool
}

// NewStdLogger creates a logger prefixed with the replica id. Debugf output
// is suppressed unless debug is set.
func NewStdLogger(id string, debug bool) *StdLogger {
	return &StdLogger{
		prefix: fmt.Sprintf("[REPLICA-%s] ", id),
		debug:  debug,
	}
}

func (l *StdLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		log.Printf(l.prefix+format, args...)
	}
}

func (l *StdLogger) Infof(format string, args ...interface{}) {
	log.Printf(l.prefix+format, args...)
}

func (l *StdLogger) Warnf(format string, args ...interface{}) {
	log.Printf(l.prefix+"WARN: "+format, args...)
}

func (l *StdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(l.prefix+"ERROR: "+format, args...)
}
