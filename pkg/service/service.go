// Package service implements the MembershipService hub described in
// spec.md §4.4: it owns the MembershipView, the WatermarkBuffer, the
// FailureDetectorRunner, the subscriber registry, and join admission.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	rmerrors "github.com/masallsome/rapidmember/internal/errors"
	"github.com/masallsome/rapidmember/internal/logging"
	"github.com/masallsome/rapidmember/pkg/configuration"
	"github.com/masallsome/rapidmember/pkg/detector"
	"github.com/masallsome/rapidmember/pkg/membership"
	"github.com/masallsome/rapidmember/pkg/rpc"
	"github.com/masallsome/rapidmember/pkg/watermark"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// dedupeKey identifies one (observer, subject, ring) report within a
// single configuration's lifetime.
type dedupeKey struct {
	Observer wire.Endpoint
	Subject  wire.Endpoint
	Ring     int
}

// pendingKey identifies one in-flight join admission.
type pendingKey struct {
	Joiner   wire.Endpoint
	ConfigID configuration.ID
}

type pendingJoin struct {
	done chan *wire.JoinResponse
}

// MembershipService is the component hub described in spec.md §4.4. It
// satisfies rpc.MembershipServer so it can be registered directly onto a
// *grpc.Server via rpc.RegisterMembershipServer.
type MembershipService struct {
	self     wire.Endpoint
	metadata map[string]string

	broadcaster rpc.Broadcaster
	detector    detector.LinkFailureDetector
	runner      *detector.Runner

	logProposals bool
	proposalLog  [][]wire.Endpoint

	subs *subscriberRegistry
	log  *logging.Logger

	mu      sync.Mutex
	view    *membership.View
	buffer  *watermark.Buffer
	history *configuration.History

	seenReports map[dedupeKey]struct{}
	pendingAdds map[wire.Endpoint]configuration.NodeID
	// pendingJoins holds a slice per key: in small clusters the same node
	// observes a joiner on several rings, so one joiner can have several
	// phase-2 calls in flight here at once, and all of them settle on the
	// same commit.
	pendingJoins map[pendingKey][]*pendingJoin
	shuttingDown bool
}

// Config bundles the tunables a MembershipService needs at construction.
type Config struct {
	Self            wire.Endpoint
	Metadata        map[string]string
	K, H, L         int
	Broadcaster     rpc.Broadcaster
	Detector        detector.LinkFailureDetector
	ProbeTransport  detector.ProbeTransport
	LogProposals    bool
	DetectorPeriod  time.Duration // 0 means detector.DefaultPeriod
	DetectorTimeout time.Duration // 0 means detector.DefaultProbeTimeout
}

// NewSeed constructs a MembershipService bootstrapped as the sole member
// of a brand new configuration (spec.md §6.2 start()).
func NewSeed(cfg Config, selfID configuration.NodeID) (*MembershipService, error) {
	s, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	s.view = membership.NewBootstrap(cfg.Self, selfID)
	s.history = configuration.NewHistory(s.view.ConfigurationID())
	s.runner.UpdateSubjects(viewSubjects(s.view, s.self))
	return s, nil
}

// NewFromView constructs a MembershipService from a view already resolved
// through the join protocol (spec.md §6.2 join()).
func NewFromView(cfg Config, view *membership.View) (*MembershipService, error) {
	s, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	s.view = view
	s.history = configuration.NewHistory(view.ConfigurationID())
	s.runner.UpdateSubjects(viewSubjects(s.view, s.self))
	return s, nil
}

func newBase(cfg Config) (*MembershipService, error) {
	buf, err := watermark.New(cfg.K, cfg.H, cfg.L)
	if err != nil {
		return nil, err
	}
	s := &MembershipService{
		self:         cfg.Self,
		metadata:     cfg.Metadata,
		broadcaster:  cfg.Broadcaster,
		detector:     cfg.Detector,
		logProposals: cfg.LogProposals,
		subs:         newSubscriberRegistry(),
		log:          logging.New("membership-service"),
		buffer:       buf,
		seenReports:  make(map[dedupeKey]struct{}),
		pendingAdds:  make(map[wire.Endpoint]configuration.NodeID),
		pendingJoins: make(map[pendingKey][]*pendingJoin),
	}
	s.runner = detector.NewRunner(cfg.Detector, cfg.ProbeTransport, s.handleLinkFailed, cfg.DetectorPeriod, cfg.DetectorTimeout)
	s.runner.Start()
	return s, nil
}

// UpdateDetectorTiming live-reloads the failure-detector tick period and
// per-probe timeout, driven by internal/config.Watcher reloads of
// detector.probe_period_seconds / detector.probe_timeout_seconds.
func (s *MembershipService) UpdateDetectorTiming(period, timeout time.Duration) {
	s.runner.SetPeriod(period)
	s.runner.SetTimeout(timeout)
}

// UpdateFailureThreshold live-reloads the failure-detector's
// consecutive-miss threshold when the configured detector is the default
// *detector.PingPong; a custom cluster.Builder.WithLinkFailureDetector override
// has no reloadable threshold this layer knows about, so the call is a
// silent no-op for it.
func (s *MembershipService) UpdateFailureThreshold(n int) {
	if pp, ok := s.detector.(*detector.PingPong); ok {
		pp.SetFailureThreshold(n)
	}
}

func viewSubjects(v *membership.View, self wire.Endpoint) []wire.Endpoint {
	subjects := v.SubjectsOf(self)
	return subjects[:]
}

// RegisterSubscription registers a callback for an event kind.
func (s *MembershipService) RegisterSubscription(kind wire.EventKind, cb Callback) {
	s.subs.register(kind, cb)
}

// MemberList returns an ordered snapshot of current endpoints.
func (s *MembershipService) MemberList() []wire.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Members()
}

// ConfigurationID returns the current configuration id.
func (s *MembershipService) ConfigurationID() configuration.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.ConfigurationID()
}

// ProposalLog returns every stable batch delivered so far, if
// Config.LogProposals was set (used by tests to inspect behavior).
func (s *MembershipService) ProposalLog() [][]wire.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]wire.Endpoint, len(s.proposalLog))
	copy(out, s.proposalLog)
	return out
}

// Shutdown stops the detector runner and marks the service as torn down:
// pending and subsequent JoinPhase1/JoinPhase2 calls return ErrShutdown and
// inbound link updates are dropped; probes are still answered.
func (s *MembershipService) Shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	pending := make([]*pendingJoin, 0, len(s.pendingJoins))
	for k, pjs := range s.pendingJoins {
		pending = append(pending, pjs...)
		delete(s.pendingJoins, k)
	}
	s.mu.Unlock()

	s.runner.Stop()
	for _, p := range pending {
		close(p.done)
	}
}

// ---- inbound RPCs (rpc.MembershipServer) ----

// JoinPhase1 implements spec.md §4.4's handleJoinPhase1. It never mutates
// state.
func (s *MembershipService) JoinPhase1(ctx context.Context, req *wire.JoinMessage) (*wire.JoinResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return nil, rmerrors.ErrShutdown
	}

	joinerID := configuration.NodeID(req.NodeID)
	current := s.currentSnapshotLocked()

	if s.view.HasSeenNodeID(joinerID) {
		return &wire.JoinResponse{
			Sender: s.self, StatusCode: wire.StatusUUIDAlreadyInRing,
			ConfigID: int64(s.view.ConfigurationID()), Hosts: current.hosts, Identifiers: current.ids,
		}, nil
	}
	if _, ok := s.view.NodeIDOf(req.Sender); ok {
		// Resolved Open Question (SPEC_FULL.md §4): include the current
		// configuration so a joiner whose previous phase-2 attempt timed
		// out can tell a stale reservation apart from a genuine hostname
		// collision, instead of retrying blind.
		return &wire.JoinResponse{
			Sender: s.self, StatusCode: wire.StatusHostnameAlreadyInRing,
			ConfigID: int64(s.view.ConfigurationID()), Hosts: current.hosts, Identifiers: current.ids,
		}, nil
	}

	observers := s.view.ProspectiveObservers(req.Sender)
	return &wire.JoinResponse{
		Sender:     s.self,
		StatusCode: wire.StatusSafeToJoin,
		ConfigID:   int64(s.view.ConfigurationID()),
		Hosts:      observers[:],
	}, nil
}

// JoinPhase2 implements spec.md §4.4's handleJoinPhase2.
func (s *MembershipService) JoinPhase2(ctx context.Context, req *wire.JoinMessage) (*wire.JoinResponse, error) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil, rmerrors.ErrShutdown
	}
	current := s.view.ConfigurationID()
	if configuration.ID(req.ConfigID) != current {
		snap := s.currentSnapshotLocked()
		s.mu.Unlock()
		return &wire.JoinResponse{
			Sender: s.self, StatusCode: wire.StatusConfigChanged,
			ConfigID: int64(current), Hosts: snap.hosts, Identifiers: snap.ids,
		}, nil
	}

	key := pendingKey{Joiner: req.Sender, ConfigID: current}
	pj := &pendingJoin{done: make(chan *wire.JoinResponse, 1)}
	s.pendingJoins[key] = append(s.pendingJoins[key], pj)
	joinerID := configuration.NodeID(req.NodeID)
	s.pendingAdds[req.Sender] = joinerID
	members := s.view.Members()
	s.mu.Unlock()

	updateMsg := &wire.LinkUpdateMessage{
		Sender: s.self, LinkSrc: s.self, LinkDst: req.Sender,
		LinkStatus: wire.LinkStatusUpJoin, RingNumber: req.RingNumber,
		ConfigID: int64(current), JoinerID: req.NodeID, HasJoiner: true,
	}
	s.applyLinkUpdateLocally(updateMsg)
	go s.broadcaster.BroadcastLinkUpdate(context.Background(), members, updateMsg)

	select {
	case resp, ok := <-pj.done:
		if !ok {
			return nil, rmerrors.ErrShutdown
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.dropPendingJoinLocked(key, pj)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: join phase2 expired waiting for commit", rmerrors.ErrTransientTransport)
	}
}

// dropPendingJoinLocked removes one expired waiter without disturbing the
// other phase-2 calls still pending for the same joiner. Must be called
// with s.mu held.
func (s *MembershipService) dropPendingJoinLocked(key pendingKey, pj *pendingJoin) {
	pjs := s.pendingJoins[key]
	for i, p := range pjs {
		if p == pj {
			s.pendingJoins[key] = append(pjs[:i], pjs[i+1:]...)
			break
		}
	}
	if len(s.pendingJoins[key]) == 0 {
		delete(s.pendingJoins, key)
	}
}

// LinkUpdate implements spec.md §4.4's handleLinkUpdate.
func (s *MembershipService) LinkUpdate(ctx context.Context, req *wire.LinkUpdateMessage) (*rpc.Ack, error) {
	s.applyLinkUpdateLocally(req)
	return &rpc.Ack{}, nil
}

// Probe answers an inbound probe by delegating to the pluggable detector.
func (s *MembershipService) Probe(ctx context.Context, req *wire.ProbeMessage) (*wire.ProbeResponse, error) {
	resp := s.detector.HandleProbeMessage(*req)
	return &resp, nil
}

type configSnapshot struct {
	hosts []wire.Endpoint
	ids   [][16]byte
}

// currentSnapshotLocked must be called with s.mu held.
func (s *MembershipService) currentSnapshotLocked() configSnapshot {
	members := s.view.Members()
	ids := make([][16]byte, len(members))
	for i, m := range members {
		id, _ := s.view.NodeIDOf(m)
		ids[i] = id
	}
	return configSnapshot{hosts: members, ids: ids}
}

// applyLinkUpdateLocally is the shared path for both RPC-delivered and
// self-originated link updates: fence on configurationId, deduplicate,
// feed the watermark buffer, and commit on a stable batch.
func (s *MembershipService) applyLinkUpdateLocally(msg *wire.LinkUpdateMessage) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	if configuration.ID(msg.ConfigID) != s.view.ConfigurationID() {
		s.mu.Unlock()
		return
	}
	key := dedupeKey{Observer: msg.Sender, Subject: msg.LinkDst, Ring: msg.RingNumber}
	if _, dup := s.seenReports[key]; dup {
		s.mu.Unlock()
		return
	}
	s.seenReports[key] = struct{}{}
	if msg.LinkStatus == wire.LinkStatusUpJoin && msg.HasJoiner {
		s.pendingAdds[msg.LinkDst] = configuration.NodeID(msg.JoinerID)
	}

	batch := s.buffer.Receive(msg.LinkDst)
	s.mu.Unlock()

	if batch == nil {
		return
	}
	s.subs.fire(wire.EventViewChangeProposal, ViewChangeProposalPayload{Batch: batch})
	s.commitViewChange(batch, configuration.ID(msg.ConfigID))
}

// handleLinkFailed implements spec.md §4.4's handleLinkFailed: emit a
// DOWN report for every ring on which self observes the failed subject.
func (s *MembershipService) handleLinkFailed(subject wire.Endpoint) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	current := s.view.ConfigurationID()
	subjects := s.view.SubjectsOf(s.self)
	members := s.view.Members()
	s.mu.Unlock()

	for ring, sub := range subjects {
		if sub != subject {
			continue
		}
		msg := &wire.LinkUpdateMessage{
			Sender: s.self, LinkSrc: s.self, LinkDst: subject,
			LinkStatus: wire.LinkStatusDown, RingNumber: ring, ConfigID: int64(current),
		}
		s.applyLinkUpdateLocally(msg)
		go s.broadcaster.BroadcastLinkUpdate(context.Background(), members, msg)
	}
}

// commitViewChange implements spec.md §4.4's commitViewChange. A batch
// produced under batchConfig is dropped if another commit has already
// replaced that configuration: the first delivered batch wins.
func (s *MembershipService) commitViewChange(batch []wire.Endpoint, batchConfig configuration.ID) {
	s.mu.Lock()
	if s.view.ConfigurationID() != batchConfig {
		s.mu.Unlock()
		return
	}

	var added, removed []wire.Endpoint
	addedIDs := make(map[wire.Endpoint]configuration.NodeID)
	removedIDs := make(map[wire.Endpoint]configuration.NodeID)
	for _, e := range batch {
		if id, isMember := s.view.NodeIDOf(e); isMember {
			removed = append(removed, e)
			removedIDs[e] = id
			continue
		}
		if id, ok := s.pendingAdds[e]; ok {
			added = append(added, e)
			addedIDs[e] = id
		}
		// A subject that is neither a current member nor a known pending
		// joiner cannot be resolved into an add or remove; it is dropped
		// rather than applied, per spec.md §4.4's partition step.
	}

	for _, e := range added {
		if err := s.view.Add(e, addedIDs[e]); err != nil {
			s.log.Printf("commit: failed to add %s: %v", e, err)
		}
		delete(s.pendingAdds, e)
	}
	for _, e := range removed {
		s.view.Remove(e)
	}

	newID := s.view.ConfigurationID()
	s.history.Append(newID, configuration.Operation{
		Added:   toNodeIDs(addedIDs, added),
		Removed: toNodeIDs(removedIDs, removed),
	})

	s.buffer.Reset()
	s.seenReports = make(map[dedupeKey]struct{})
	s.runner.UpdateSubjects(viewSubjects(s.view, s.self))

	if s.logProposals {
		s.proposalLog = append(s.proposalLog, batch)
	}

	snapshotMembers := s.view.Members()
	snapshotIDs := make([][16]byte, len(snapshotMembers))
	for i, m := range snapshotMembers {
		id, _ := s.view.NodeIDOf(m)
		snapshotIDs[i] = id
	}

	toSettle := make([]*pendingJoin, 0)
	for key, pjs := range s.pendingJoins {
		admitted := false
		for _, m := range snapshotMembers {
			if m == key.Joiner {
				admitted = true
				break
			}
		}
		if !admitted {
			continue
		}
		toSettle = append(toSettle, pjs...)
		delete(s.pendingJoins, key)
	}
	settleResp := &wire.JoinResponse{
		Sender: s.self, StatusCode: wire.StatusSafeToJoin,
		ConfigID: int64(newID), Hosts: snapshotMembers, Identifiers: snapshotIDs,
	}

	s.mu.Unlock()

	// Fire subscriber callbacks outside the critical section.
	s.subs.fire(wire.EventViewChange, ViewChangePayload{
		Members: snapshotMembers, ConfigID: newID, Added: added, Removed: removed,
	})
	for _, e := range added {
		s.subs.fire(wire.EventNodeAdded, NodeAddedPayload{Endpoint: e, NodeID: addedIDs[e]})
	}
	for _, e := range removed {
		s.subs.fire(wire.EventNodeRemoved, NodeRemovedPayload{Endpoint: e})
	}

	for _, pj := range toSettle {
		pj.done <- settleResp
	}
}

func toNodeIDs(m map[wire.Endpoint]configuration.NodeID, order []wire.Endpoint) []configuration.NodeID {
	out := make([]configuration.NodeID, 0, len(order))
	for _, e := range order {
		out = append(out, m[e])
	}
	return out
}
