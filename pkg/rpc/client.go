package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/masallsome/rapidmember/pkg/wire"
)

// BaseDeadline is the base RPC deadline used for phase-1 join and
// link-update calls (spec.md §6.3, §5: "base timeout ≈ 1 s"). Probe calls
// use the deadline already on the caller's context instead.
const BaseDeadline = time.Second

// Phase2Deadline is the observer phase-2 deadline, five times the base
// timeout per spec.md §5.
const Phase2Deadline = 5 * BaseDeadline

// ClientPool caches one *grpc.ClientConn per peer endpoint, matching the
// "RPC stubs are per-peer and cached" policy in spec.md §5.
type ClientPool struct {
	mu    sync.Mutex
	conns map[wire.Endpoint]*grpc.ClientConn
}

// NewClientPool returns an empty pool.
func NewClientPool() *ClientPool {
	return &ClientPool{conns: make(map[wire.Endpoint]*grpc.ClientConn)}
}

func (p *ClientPool) conn(e wire.Endpoint) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[e]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(
		e.String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e, err)
	}
	p.conns[e] = c
	return c, nil
}

// Close tears down every cached connection.
func (p *ClientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for e, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, e)
	}
	return firstErr
}

// Transport is the concrete, swappable RPC collaborator used by
// pkg/service, pkg/join, and pkg/detector. It is the one piece the spec
// marks out of scope beyond its interface; this is the default
// implementation, riding on grpc.ClientConn.Invoke against the
// hand-written ServiceDesc in service.go.
type Transport struct {
	pool *ClientPool
}

// NewTransport constructs a Transport backed by a fresh ClientPool.
func NewTransport() *Transport {
	return &Transport{pool: NewClientPool()}
}

func (t *Transport) invoke(ctx context.Context, addr wire.Endpoint, method string, req, resp interface{}) error {
	conn, err := t.pool.conn(addr)
	if err != nil {
		return err
	}
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	return conn.Invoke(ctx, fullMethod, req, resp)
}

// SendJoinPhase1 sends a phase-1 join request to a seed.
func (t *Transport) SendJoinPhase1(ctx context.Context, seed wire.Endpoint, msg *wire.JoinMessage) (*wire.JoinResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, BaseDeadline)
	defer cancel()
	resp := new(wire.JoinResponse)
	if err := t.invoke(ctx, seed, "JoinPhase1", msg, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendJoinPhase2 sends a phase-2 join request to one observer, bounded by
// the wider observer deadline (spec.md §5).
func (t *Transport) SendJoinPhase2(ctx context.Context, observer wire.Endpoint, msg *wire.JoinMessage) (*wire.JoinResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, Phase2Deadline)
	defer cancel()
	resp := new(wire.JoinResponse)
	if err := t.invoke(ctx, observer, "JoinPhase2", msg, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendLinkUpdate delivers a link-status report to one peer.
func (t *Transport) SendLinkUpdate(ctx context.Context, peer wire.Endpoint, msg *wire.LinkUpdateMessage) error {
	ctx, cancel := context.WithTimeout(ctx, BaseDeadline)
	defer cancel()
	return t.invoke(ctx, peer, "LinkUpdate", msg, new(Ack))
}

// SendProbe issues a probe to subject, satisfying detector.ProbeTransport.
func (t *Transport) SendProbe(ctx context.Context, subject wire.Endpoint, msg wire.ProbeMessage) (wire.ProbeResponse, error) {
	resp := new(wire.ProbeResponse)
	if err := t.invoke(ctx, subject, "Probe", &msg, resp); err != nil {
		return wire.ProbeResponse{}, err
	}
	return *resp, nil
}

// Close tears down all cached client connections.
func (t *Transport) Close() error {
	return t.pool.Close()
}
