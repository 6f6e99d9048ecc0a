// Package cluster exposes the public builder API described in spec.md
// §6.2: new/withMetadata/withLogProposals/withLinkFailureDetector/start/
// join/memberList/registerSubscription/shutdown.
package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/masallsome/rapidmember/internal/logging"
	"github.com/masallsome/rapidmember/pkg/configuration"
	"github.com/masallsome/rapidmember/pkg/detector"
	"github.com/masallsome/rapidmember/pkg/join"
	"github.com/masallsome/rapidmember/pkg/membership"
	"github.com/masallsome/rapidmember/pkg/rpc"
	"github.com/masallsome/rapidmember/pkg/service"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// Default watermark and ring parameters (spec.md §6.3).
const (
	DefaultK = membership.K
	DefaultH = 8
	DefaultL = 1
)

// Builder accumulates options for a new node before it starts or joins a
// cluster.
type Builder struct {
	listen           wire.Endpoint
	metadata         map[string]string
	logProposals     bool
	detector         detector.LinkFailureDetector
	k, h, l          int
	detectorPeriod   time.Duration
	detectorTimeout  time.Duration
	failureThreshold int
	logLevel         string
}

// New begins building a node that will listen on listenAddress
// ("host:port").
func New(listenAddress string) *Builder {
	ep, err := parseEndpoint(listenAddress)
	if err != nil {
		// Builder methods don't return errors (matching spec.md §6.2's
		// fluent signatures); an unparseable listen address is kept as the
		// host with port 0 and handed to net.Listen as is by Start/Join.
		ep = wire.Endpoint{Host: listenAddress}
	}
	return &Builder{listen: ep, k: DefaultK, h: DefaultH, l: DefaultL}
}

func parseEndpoint(addr string) (wire.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return wire.Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return wire.Endpoint{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return wire.Endpoint{Host: host, Port: port}, nil
}

// WithMetadata attaches immutable key/value tags to this node.
func (b *Builder) WithMetadata(md map[string]string) *Builder {
	b.metadata = md
	return b
}

// WithLogProposals retains proposal batches for test inspection.
func (b *Builder) WithLogProposals(v bool) *Builder {
	b.logProposals = v
	return b
}

// WithLinkFailureDetector overrides the default ping-pong detector.
func (b *Builder) WithLinkFailureDetector(d detector.LinkFailureDetector) *Builder {
	b.detector = d
	return b
}

// WithWatermark overrides the K/H/L parameters (defaults: 10/8/1).
func (b *Builder) WithWatermark(k, h, l int) *Builder {
	b.k, b.h, b.l = k, h, l
	return b
}

// WithDetectorTiming overrides the failure-detector's tick period and
// per-probe timeout (defaults: detector.DefaultPeriod/DefaultProbeTimeout,
// both ≈1s per spec.md §6.3). Zero values leave the corresponding default
// in place.
func (b *Builder) WithDetectorTiming(period, timeout time.Duration) *Builder {
	b.detectorPeriod, b.detectorTimeout = period, timeout
	return b
}

// WithFailureThreshold overrides the default ping-pong detector's
// consecutive-miss threshold (spec.md §4.3: N ≈ 5). Has no effect when
// combined with WithLinkFailureDetector, since a custom detector owns its
// own threshold semantics.
func (b *Builder) WithFailureThreshold(n int) *Builder {
	b.failureThreshold = n
	return b
}

// WithLogLevel sets the process-wide log verbosity ("debug", "info",
// "warn", or "error"; defaults to "info"). Applied when the cluster
// starts/joins and whenever internal/config.Watcher reloads a changed
// log_level via Cluster.ApplyLogLevel.
func (b *Builder) WithLogLevel(level string) *Builder {
	b.logLevel = level
	return b
}

func (b *Builder) buildDetector() detector.LinkFailureDetector {
	if b.detector != nil {
		return b.detector
	}
	pp := detector.NewPingPong()
	if b.failureThreshold > 0 {
		pp.FailureThreshold = b.failureThreshold
	}
	return pp
}

// Cluster is a running node: a MembershipService wired to a live gRPC
// server and client transport.
type Cluster struct {
	svc       *service.MembershipService
	transport *rpc.Transport
	server    *grpc.Server
	listener  net.Listener
	self      wire.Endpoint
	log       *logging.Logger
}

// Start boots a node in seed mode: a single-member initial view.
func (b *Builder) Start() (*Cluster, error) {
	b.applyLogLevel()

	lis, err := net.Listen("tcp", b.listen.String())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", b.listen, err)
	}

	transport := rpc.NewTransport()
	broadcaster := rpc.NewFanOutBroadcaster(transport)
	det := b.buildDetector()

	selfID := configuration.NodeID(uuid.New())
	svc, err := service.NewSeed(service.Config{
		Self: b.listen, Metadata: b.metadata, K: b.k, H: b.h, L: b.l,
		Broadcaster: broadcaster, Detector: det, ProbeTransport: transport,
		LogProposals: b.logProposals, DetectorPeriod: b.detectorPeriod, DetectorTimeout: b.detectorTimeout,
	}, selfID)
	if err != nil {
		lis.Close()
		return nil, err
	}

	return b.serve(lis, svc, transport)
}

// Join resolves the current configuration from seedAddress and is admitted
// by its K future observers (spec.md §4.5), then begins serving.
func (b *Builder) Join(seedAddress string) (*Cluster, error) {
	b.applyLogLevel()

	seed, err := parseEndpoint(seedAddress)
	if err != nil {
		return nil, fmt.Errorf("parse seed address %q: %w", seedAddress, err)
	}

	lis, err := net.Listen("tcp", b.listen.String())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", b.listen, err)
	}

	transport := rpc.NewTransport()
	joiner := join.New(b.listen, b.metadata, transport)
	view, err := joiner.Join(context.Background(), seed)
	if err != nil {
		lis.Close()
		transport.Close()
		return nil, err
	}

	broadcaster := rpc.NewFanOutBroadcaster(transport)
	det := b.buildDetector()
	svc, err := service.NewFromView(service.Config{
		Self: b.listen, Metadata: b.metadata, K: b.k, H: b.h, L: b.l,
		Broadcaster: broadcaster, Detector: det, ProbeTransport: transport,
		LogProposals: b.logProposals, DetectorPeriod: b.detectorPeriod, DetectorTimeout: b.detectorTimeout,
	}, view)
	if err != nil {
		lis.Close()
		transport.Close()
		return nil, err
	}

	return b.serve(lis, svc, transport)
}

func (b *Builder) applyLogLevel() {
	if b.logLevel != "" {
		logging.SetLevel(logging.ParseLevel(b.logLevel))
	}
}

func (b *Builder) serve(lis net.Listener, svc *service.MembershipService, transport *rpc.Transport) (*Cluster, error) {
	grpcServer := grpc.NewServer()
	rpc.RegisterMembershipServer(grpcServer, svc)

	c := &Cluster{
		svc: svc, transport: transport, server: grpcServer, listener: lis,
		self: b.listen, log: logging.New("cluster"),
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			c.log.Printf("gRPC server stopped: %v", err)
		}
	}()
	return c, nil
}

// MemberList returns an ordered snapshot of current Endpoints.
func (c *Cluster) MemberList() []wire.Endpoint {
	return c.svc.MemberList()
}

// RegisterSubscription registers a callback for event ∈ {ViewChangeProposal,
// ViewChange, NodeAdded, NodeRemoved}.
func (c *Cluster) RegisterSubscription(event wire.EventKind, cb service.Callback) {
	c.svc.RegisterSubscription(event, cb)
}

// ProposalLog exposes buffered stable batches when the cluster was built
// with WithLogProposals(true).
func (c *Cluster) ProposalLog() [][]wire.Endpoint {
	return c.svc.ProposalLog()
}

// ConfigurationID returns the current configuration id.
func (c *Cluster) ConfigurationID() configuration.ID {
	return c.svc.ConfigurationID()
}

// ApplyDetectorConfig live-reloads the failure detector's tick period,
// per-probe timeout, and (for the default ping-pong detector) consecutive-
// miss threshold. Intended to be called from a config.Watcher reload
// handler so detector.probe_period_seconds, detector.probe_timeout_seconds,
// and detector.failure_threshold take effect without restarting the node,
// per SPEC_FULL.md §2.2. Zero/non-positive values are ignored by the
// underlying setters, so a partial config change only updates the fields
// that actually changed.
func (c *Cluster) ApplyDetectorConfig(period, timeout time.Duration, failureThreshold int) {
	c.svc.UpdateDetectorTiming(period, timeout)
	c.svc.UpdateFailureThreshold(failureThreshold)
}

// ApplyLogLevel live-reloads the process-wide log verbosity. Intended to
// be called from a config.Watcher reload handler so log_level takes
// effect without restarting the node, per SPEC_FULL.md §2.2.
func (c *Cluster) ApplyLogLevel(level string) {
	logging.SetLevel(logging.ParseLevel(level))
}

// Shutdown gracefully tears the node down: it stops accepting new members,
// stops the periodic failure-detector tick, then closes the gRPC server
// and client transport, matching the ordering in spec.md §5.
func (c *Cluster) Shutdown() {
	c.svc.Shutdown()
	c.server.GracefulStop()
	c.transport.Close()
}

// Self returns this node's own endpoint.
func (c *Cluster) Self() wire.Endpoint {
	return c.self
}
