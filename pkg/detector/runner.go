package detector

import (
	"context"
	"sync"
	"time"

	"github.com/masallsome/rapidmember/internal/logging"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// DefaultPeriod is the runner's tick interval (spec.md §6.3: "probe period
// ≈ 1 s").
const DefaultPeriod = time.Second

// DefaultProbeTimeout bounds a single probe round trip.
const DefaultProbeTimeout = time.Second

// LinkFailedHandler is invoked once per subject whose detector reports a
// failure on a given tick (HasFailed was already true, or became true after
// this tick's probe for it failed/timed out).
type LinkFailedHandler func(subject wire.Endpoint)

// Runner periodically drives the detector over the current subject set.
// Subject set updates are applied atomically at the start of a tick; stale
// callbacks are dropped and OnMembershipChange is invoked exactly once per
// update (spec.md §4.3).
type Runner struct {
	detector  LinkFailureDetector
	transport ProbeTransport
	onFailed  LinkFailedHandler
	log       *logging.Logger

	tmu     sync.Mutex // guards period/timeout, set independently of subjects
	period  time.Duration
	timeout time.Duration

	mu              sync.Mutex
	subjects        []wire.Endpoint
	subjectsChanged bool

	stop   chan struct{}
	done   chan struct{}
	runMu  sync.Mutex // guards start/stop against concurrent Start/Stop calls
	active bool
}

// NewRunner constructs a Runner. period and timeout default to
// DefaultPeriod/DefaultProbeTimeout when zero.
func NewRunner(d LinkFailureDetector, t ProbeTransport, onFailed LinkFailedHandler, period, timeout time.Duration) *Runner {
	if period == 0 {
		period = DefaultPeriod
	}
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	return &Runner{
		detector:  d,
		transport: t,
		onFailed:  onFailed,
		period:    period,
		timeout:   timeout,
		log:       logging.New("detector-runner"),
	}
}

// UpdateSubjects atomically replaces the subject set the next tick will
// observe. It may be called concurrently with a running tick; the new set
// takes effect on the following tick boundary.
func (r *Runner) UpdateSubjects(subjects []wire.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]wire.Endpoint, len(subjects))
	copy(cp, subjects)
	r.subjects = cp
	r.subjectsChanged = true
}

// currentSubjects returns the subject set and whether it was replaced since
// the previous call.
func (r *Runner) currentSubjects() ([]wire.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Endpoint, len(r.subjects))
	copy(out, r.subjects)
	changed := r.subjectsChanged
	r.subjectsChanged = false
	return out, changed
}

// SetPeriod changes the tick interval the running loop uses from its next
// tick onward. Driven by internal/config.Watcher reloads of
// detector.probe_period_seconds; a non-positive duration is ignored.
func (r *Runner) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	r.tmu.Lock()
	r.period = d
	r.tmu.Unlock()
}

// SetTimeout changes the per-probe deadline used by future ticks. Driven
// by internal/config.Watcher reloads of detector.probe_timeout_seconds; a
// non-positive duration is ignored.
func (r *Runner) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.tmu.Lock()
	r.timeout = d
	r.tmu.Unlock()
}

func (r *Runner) currentPeriod() time.Duration {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	return r.period
}

func (r *Runner) currentTimeout() time.Duration {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	return r.timeout
}

// Start launches the periodic tick loop in a new goroutine. Stop tears it
// down. Start is idempotent while already running.
func (r *Runner) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.active {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.active = true
	go r.loop()
}

func (r *Runner) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.active {
		return
	}
	close(r.stop)
	<-r.done
	r.active = false
}

// loop drives the periodic tick. It re-reads the period on every
// iteration via a one-shot timer rather than a time.Ticker, so SetPeriod
// takes effect from the very next tick without restarting the goroutine.
func (r *Runner) loop() {
	defer close(r.done)
	timer := time.NewTimer(r.currentPeriod())
	defer timer.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
			r.tick()
			timer.Reset(r.currentPeriod())
		}
	}
}

// tick applies the onMembershipChange notification and probes every
// current subject in parallel, waiting for all outstanding probes to
// either complete or time out before returning (spec.md §4.3, §5).
func (r *Runner) tick() {
	subjects, changed := r.currentSubjects()
	r.log.Debugf("tick: probing %d subject(s)", len(subjects))
	if changed {
		r.detector.OnMembershipChange(subjects)
	}

	var wg sync.WaitGroup
	for _, subject := range subjects {
		subject := subject
		if r.detector.HasFailed(subject) {
			r.onFailed(subject)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.probeOne(subject)
		}()
	}
	wg.Wait()
}

func (r *Runner) probeOne(subject wire.Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), r.currentTimeout())
	defer cancel()

	probe := r.detector.CreateProbe(subject)
	resp, err := r.transport.SendProbe(ctx, subject, probe)
	if err != nil {
		r.detector.OnProbeFailure(err, subject)
		if r.detector.HasFailed(subject) {
			r.onFailed(subject)
		}
		return
	}
	r.detector.OnProbeSuccess(resp, subject)
}
