// Command node runs a single rapidmember cluster node: it loads its
// operational config, optionally starts Kubernetes-backed seed discovery,
// then either seeds a brand-new cluster or joins an existing one, the way
// the teacher's cmd/server/main.go wires config, K8s discovery, and the
// gRPC server together for a control-plane replica.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/masallsome/rapidmember/internal/config"
	"github.com/masallsome/rapidmember/internal/seeddiscovery"
	"github.com/masallsome/rapidmember/pkg/cluster"
)

func main() {
	configPath := os.Getenv("RAPIDMEMBER_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", configPath, err)
	}

	watcher, err := config.NewWatcher(configPath, cfg.Watermark)
	if err != nil {
		log.Printf("warning: failed to create config watcher: %v", err)
	} else {
		go func() {
			if err := watcher.Start(); err != nil {
				log.Printf("config watcher stopped: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SeedDiscovery != nil && cfg.SeedDiscovery.Enabled && cfg.SeedAddress == "" {
		if seed := discoverSeed(ctx, cfg); seed != "" {
			cfg.SeedAddress = seed
		}
	}

	builder := cluster.New(cfg.ListenAddress).
		WithMetadata(cfg.Metadata).
		WithLogProposals(cfg.LogProposals).
		WithWatermark(cfg.Watermark.K, cfg.Watermark.H, cfg.Watermark.L).
		WithDetectorTiming(detectorDurations(cfg.Detector)).
		WithFailureThreshold(cfg.Detector.FailureThreshold).
		WithLogLevel(cfg.LogLevel)

	var node *cluster.Cluster
	if cfg.SeedAddress == "" {
		log.Printf("starting new cluster on %s", cfg.ListenAddress)
		node, err = builder.Start()
	} else {
		log.Printf("joining cluster at %s via %s", cfg.SeedAddress, cfg.ListenAddress)
		node, err = builder.Join(cfg.SeedAddress)
	}
	if err != nil {
		log.Fatalf("failed to start node: %v", err)
	}
	log.Printf("node %s is up, configuration id %d", node.Self(), node.ConfigurationID())

	if watcher != nil {
		go applyReloads(watcher, node)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	node.Shutdown()
}

// detectorDurations converts internal/config's float-seconds detector
// tuning into the time.Duration pair cluster.Builder.WithDetectorTiming
// expects.
func detectorDurations(d config.Detector) (period, timeout time.Duration) {
	return time.Duration(d.ProbePeriodSeconds * float64(time.Second)),
		time.Duration(d.ProbeTimeoutSeconds * float64(time.Second))
}

// discoverSeed blocks briefly on the initial EndpointSlice sync and
// returns one candidate address, or "" if none is found (e.g. this node
// is itself the first pod to come up, and should fall back to seeding).
func discoverSeed(ctx context.Context, cfg *config.Config) string {
	_, portStr, err := net.SplitHostPort(cfg.ListenAddress)
	if err != nil {
		log.Printf("warning: seed discovery disabled, bad listen address %q: %v", cfg.ListenAddress, err)
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Printf("warning: seed discovery disabled, bad listen port %q: %v", portStr, err)
		return ""
	}

	clientset, err := seeddiscovery.NewClient()
	if err != nil {
		log.Printf("warning: seed discovery disabled, no k8s client: %v", err)
		return ""
	}

	src := seeddiscovery.NewSource(clientset, cfg.SeedDiscovery.Namespace, cfg.SeedDiscovery.ServiceName, port)
	if err := src.Start(ctx); err != nil {
		log.Printf("warning: seed discovery disabled: %v", err)
		return ""
	}

	candidates := src.Candidates()
	if len(candidates) == 0 {
		log.Printf("seed discovery found no existing members; seeding a new cluster")
		return ""
	}
	log.Printf("seed discovery found %d candidate(s), using %s", len(candidates), candidates[0])
	return candidates[0].String()
}

// applyReloads drains config.Watcher's reload channel and pushes the
// operational subset of each reloaded config (detector cadence, probe
// timeout, failure threshold, log level) into the running node. Watermark
// (K/H/L) never reaches here: config.Watcher already pins it to the
// bootstrap value before a reload is published (spec.md §4.1).
func applyReloads(w *config.Watcher, node *cluster.Cluster) {
	for cfg := range w.Updates() {
		period, timeout := detectorDurations(cfg.Detector)
		node.ApplyDetectorConfig(period, timeout, cfg.Detector.FailureThreshold)
		node.ApplyLogLevel(cfg.LogLevel)
		log.Printf("applied reloaded config: probe_period=%s probe_timeout=%s failure_threshold=%d log_level=%s",
			period, timeout, cfg.Detector.FailureThreshold, cfg.LogLevel)
	}
}
