// Package channel implements the synchronization protocol binding a
// single writer process to a single reader process over one named
// shared region: registration, the exclusive-access critical section
// around every queue operation, the has-messages/no-messages state
// machine, and the client-connected handshake.
//
// Grounded on the teacher's `internal/runtime` session-lifecycle code
// for drop order and nil-safe logger fields, generalized from a
// compiler build session to a shared-memory channel session.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/orizon-lang/shmqueue/internal/plat"
	"github.com/orizon-lang/shmqueue/internal/queue"
	"github.com/orizon-lang/shmqueue/internal/region"
	"github.com/orizon-lang/shmqueue/internal/registry"
	"github.com/orizon-lang/shmqueue/internal/status"
)

// Direction is which end of the FIFO a session occupies.
type Direction int

const (
	Outbound Direction = iota // the writer
	Inbound                   // the reader
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}

	return "outbound"
}

// State is a ChannelSession's observable state, projected from the
// region header.
type State struct {
	Capacity    int64
	TotalSpace  int64
	ActiveNodes int64
}

// Result is what an async operation posts on completion.
type Result struct {
	State  State
	Status status.Status
	Err    error
}

// ChannelSession binds one process to one end of a named channel. Zero
// value is not usable; construct via Create* or Open*.
type ChannelSession struct {
	name      string
	scope     plat.Scope
	dir       string
	direction Direction

	region          plat.Region
	regLock         plat.Lock
	exclusive       plat.Lock
	hasMessages     plat.Signal
	noMessages      plat.Signal
	clientConnected plat.Signal

	sem *semaphore.Weighted

	// Logger receives a line per registration/teardown event. Nil is
	// valid and discards.
	Logger *log.Logger
}

func (s *ChannelSession) logf(format string, args ...any) {
	if s.Logger == nil {
		return
	}

	s.Logger.Printf(format, args...)
}

func path(dir, suffix string) string {
	return filepath.Join(dir, suffix)
}

// CreateOutbound creates a new channel and registers this session as
// its sole writer.
func CreateOutbound(ctx context.Context, name string, capacity int64, scope plat.Scope) (*ChannelSession, status.Status, error) {
	return create(ctx, Outbound, name, capacity, scope)
}

// CreateInbound creates a new channel and registers this session as
// its sole reader.
func CreateInbound(ctx context.Context, name string, capacity int64, scope plat.Scope) (*ChannelSession, status.Status, error) {
	return create(ctx, Inbound, name, capacity, scope)
}

// OpenOutbound opens an existing channel as its writer.
func OpenOutbound(ctx context.Context, name string, scope plat.Scope) (*ChannelSession, status.Status, error) {
	return open(ctx, Outbound, name, scope)
}

// OpenInbound opens an existing channel as its reader.
func OpenInbound(ctx context.Context, name string, scope plat.Scope) (*ChannelSession, status.Status, error) {
	return open(ctx, Inbound, name, scope)
}

func create(_ context.Context, dir Direction, name string, capacity int64, scope plat.Scope) (*ChannelSession, status.Status, error) {
	if name == "" {
		return nil, status.Completed, errors.New("channel: name must not be empty")
	}

	if capacity < region.HeaderSize {
		return nil, status.Completed, fmt.Errorf("channel: capacity must be at least %d", region.HeaderSize)
	}

	base := registry.Dir(scope, name)
	if err := registry.EnsureDir(base); err != nil {
		return nil, status.Completed, err
	}

	// The registration lock gates everything else: it must be held
	// before the region is ever touched, or a second Create* against an
	// already-active channel would truncate and reformat the live
	// region out from under its sole writer/reader before discovering
	// the conflict.
	regLock, err := openRegLock(base, dir)
	if err != nil {
		return nil, status.Completed, err
	}

	ok, st, err := regLock.TryAcquire()
	if err != nil {
		regLock.Close()
		return nil, status.Completed, err
	}

	if !ok {
		regLock.Close()
		return nil, st, nil
	}

	rgn, err := plat.CreateRegion(path(base, plat.SuffixRegion), capacity)
	if err != nil {
		regLock.Release()
		regLock.Close()

		if errors.Is(err, status.CapacityIsGreaterThanLogicalAddressSpace) {
			return nil, status.CapacityIsGreaterThanLogicalAddressSpace, nil
		}

		return nil, status.Completed, err
	}

	region.Format(rgn.Bytes(), capacity)

	rest, err := openRemainingPrimitives(base)
	if err != nil {
		rgn.Close()
		regLock.Release()
		regLock.Close()

		return nil, status.Completed, err
	}

	s := newSession(name, scope, base, dir, regLock, rest)
	s.region = rgn

	meta := registry.Metadata{
		EngineVersion: registry.EngineVersion,
		Capacity:      capacity,
		Direction:     dir.String(),
	}

	if err := registry.WriteMetadata(base, meta); err != nil {
		s.regLock.Release()
		s.closeAll()

		return nil, status.Completed, err
	}

	s.logf("channel %q: created as %s in %s scope", name, dir, scope)

	return s, status.Completed, nil
}

func open(_ context.Context, dir Direction, name string, scope plat.Scope) (*ChannelSession, status.Status, error) {
	base := registry.Dir(scope, name)

	meta, err := registry.ReadMetadata(base)
	if err != nil {
		return nil, status.ObjectDoesNotExist, nil
	}

	if err := registry.CheckCompatible(meta); err != nil {
		return nil, status.ObjectDoesNotExist, err
	}

	regLock, err := openRegLock(base, dir)
	if err != nil {
		return nil, status.Completed, err
	}

	ok, st, err := regLock.TryAcquire()
	if err != nil {
		regLock.Close()
		return nil, status.Completed, err
	}

	if !ok {
		regLock.Close()
		return nil, st, nil
	}

	rgn, err := plat.OpenRegion(path(base, plat.SuffixRegion), meta.Capacity)
	if err != nil {
		regLock.Release()
		regLock.Close()

		return nil, status.ObjectDoesNotExist, err
	}

	rest, err := openRemainingPrimitives(base)
	if err != nil {
		rgn.Close()
		regLock.Release()
		regLock.Close()

		return nil, status.Completed, err
	}

	s := newSession(name, scope, base, dir, regLock, rest)
	s.region = rgn

	if err := s.clientConnected.Set(); err != nil {
		s.regLock.Release()
		s.closeAll()

		return nil, status.Completed, err
	}

	s.logf("channel %q: opened as %s in %s scope", name, dir, scope)

	return s, status.Completed, nil
}

// openRegLock opens (creating the backing file if absent) the
// registration lock for the given direction, without acquiring it.
func openRegLock(dir string, direction Direction) (plat.Lock, error) {
	suffix := plat.SuffixReaderRegistration
	if direction == Outbound {
		suffix = plat.SuffixWriterRegistration
	}

	return plat.OpenLock(path(dir, suffix))
}

// remainingPrimitives holds the four named primitives besides the
// region and the registration lock, shared by create and open.
type remainingPrimitives struct {
	exclusive       plat.Lock
	hasMessages     plat.Signal
	noMessages      plat.Signal
	clientConnected plat.Signal
}

func openRemainingPrimitives(dir string) (remainingPrimitives, error) {
	eas, err := plat.OpenLock(path(dir, plat.SuffixExclusiveAccess))
	if err != nil {
		return remainingPrimitives{}, err
	}

	hme, err := plat.OpenSignal(path(dir, plat.SuffixHasMessages), false)
	if err != nil {
		eas.Close()
		return remainingPrimitives{}, err
	}

	nme, err := plat.OpenSignal(path(dir, plat.SuffixNoMessages), true)
	if err != nil {
		eas.Close()
		hme.Close()

		return remainingPrimitives{}, err
	}

	cce, err := plat.OpenSignal(path(dir, plat.SuffixClientConnected), false)
	if err != nil {
		eas.Close()
		hme.Close()
		nme.Close()

		return remainingPrimitives{}, err
	}

	return remainingPrimitives{exclusive: eas, hasMessages: hme, noMessages: nme, clientConnected: cce}, nil
}

func newSession(name string, scope plat.Scope, dir string, direction Direction, regLock plat.Lock, rest remainingPrimitives) *ChannelSession {
	return &ChannelSession{
		name:            name,
		scope:           scope,
		dir:             dir,
		direction:       direction,
		regLock:         regLock,
		exclusive:       rest.exclusive,
		hasMessages:     rest.hasMessages,
		noMessages:      rest.noMessages,
		clientConnected: rest.clientConnected,
		sem:             semaphore.NewWeighted(1),
	}
}

func (s *ChannelSession) closeAll() {
	if s.regLock != nil {
		s.regLock.Close()
	}

	if s.hasMessages != nil {
		s.hasMessages.Close()
	}

	if s.noMessages != nil {
		s.noMessages.Close()
	}

	if s.clientConnected != nil {
		s.clientConnected.Close()
	}

	if s.exclusive != nil {
		s.exclusive.Close()
	}

	if s.region != nil {
		s.region.Close()
	}
}

// Close tears the session down in the order spec.md's design notes
// prescribe: release the registration lock, drop the message-state
// signals, drop the exclusive-access lock, drop the region.
func (s *ChannelSession) Close() error {
	var firstErr error

	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.regLock.Release())
	record(s.regLock.Close())
	record(s.hasMessages.Close())
	record(s.noMessages.Close())
	record(s.clientConnected.Close())
	record(s.exclusive.Close())
	record(s.region.Close())

	s.logf("channel %q: closed", s.name)

	return firstErr
}

func ctxStatus(ctx context.Context) status.Status {
	if ctx.Err() == context.DeadlineExceeded {
		return status.Timeout
	}

	return status.Cancelled
}

// withExclusive serializes local goroutines on sem before taking the
// cross-process flock, the in-process half of spec.md §5's "compose
// two waits" helper; fn runs with the exclusive-access lock held.
func (s *ChannelSession) withExclusive(ctx context.Context, fn func() (State, status.Status)) (State, status.Status, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.Query(), ctxStatus(ctx), nil
	}
	defer s.sem.Release(1)

	st, err := s.exclusive.Acquire(ctx)
	if err != nil {
		return s.Query(), status.Completed, err
	}

	if st != status.Completed {
		return s.Query(), st, nil
	}
	defer s.exclusive.Release()

	state, opStatus := fn()

	return state, opStatus, nil
}

func toState(qs queue.State) State {
	return State{Capacity: qs.Capacity, TotalSpace: qs.TotalSpace, ActiveNodes: qs.ActiveNodes}
}

// syncSignals keeps _hme/_nme coherent with active_nodes, per spec.md
// §4.4's state machine. Called only while the exclusive-access lock is
// held.
func (s *ChannelSession) syncSignals(activeNodes int64) error {
	if activeNodes > 0 {
		if err := s.hasMessages.Set(); err != nil {
			return err
		}

		return s.noMessages.Clear()
	}

	if err := s.hasMessages.Clear(); err != nil {
		return err
	}

	return s.noMessages.Set()
}

// Write appends a message of the given length, letting cb fill the
// byte window before the new node is committed.
func (s *ChannelSession) Write(ctx context.Context, length int64, cb queue.Callback) (State, status.Status, error) {
	var syncErr error

	state, st, err := s.withExclusive(ctx, func() (State, status.Status) {
		opStatus, qs := queue.Write(s.region, length, cb)
		syncErr = s.syncSignals(qs.ActiveNodes)

		return toState(qs), opStatus
	})
	if err == nil {
		err = syncErr
	}

	return state, st, err
}

// Read consumes the oldest message, letting cb observe its byte window
// before the node is freed.
func (s *ChannelSession) Read(ctx context.Context, cb queue.Callback) (State, status.Status, error) {
	var syncErr error

	state, st, err := s.withExclusive(ctx, func() (State, status.Status) {
		opStatus, qs := queue.Read(s.region, cb)
		syncErr = s.syncSignals(qs.ActiveNodes)

		return toState(qs), opStatus
	})
	if err == nil {
		err = syncErr
	}

	return state, st, err
}

// State reports the channel's current capacity/total_space/active_nodes.
func (s *ChannelSession) State(ctx context.Context) (State, status.Status, error) {
	return s.withExclusive(ctx, func() (State, status.Status) {
		return toState(queue.Query(s.region)), status.Completed
	})
}

// Query reads the header without taking the exclusive-access lock,
// for best-effort reporting when a lock wait itself timed out or was
// canceled.
func (s *ChannelSession) Query() State {
	return toState(queue.Query(s.region))
}

// WaitClientConnected blocks until the opposite party has opened the
// channel, or ctx ends.
func (s *ChannelSession) WaitClientConnected(ctx context.Context) (status.Status, error) {
	return s.clientConnected.Wait(ctx)
}

// WaitHasMessages blocks until active_nodes becomes (or already is)
// greater than zero, or ctx ends.
func (s *ChannelSession) WaitHasMessages(ctx context.Context) (status.Status, error) {
	return s.hasMessages.Wait(ctx)
}

// WaitEmpty blocks until active_nodes becomes (or already is) zero, or
// ctx ends.
func (s *ChannelSession) WaitEmpty(ctx context.Context) (status.Status, error) {
	return s.noMessages.Wait(ctx)
}

// WriteAsync runs Write on its own goroutine and posts the result on
// the returned channel, which is closed afterward. The engine's state
// transitions are unchanged; this is strictly a non-blocking-worker
// wrapper per spec.md §5.
func (s *ChannelSession) WriteAsync(ctx context.Context, length int64, cb queue.Callback) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)

		state, st, err := s.Write(ctx, length, cb)
		out <- Result{State: state, Status: st, Err: err}
	}()

	return out
}

// ReadAsync is WriteAsync's Read-side counterpart.
func (s *ChannelSession) ReadAsync(ctx context.Context, cb queue.Callback) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)

		state, st, err := s.Read(ctx, cb)
		out <- Result{State: state, Status: st, Err: err}
	}()

	return out
}

// StateAsync is State's async counterpart.
func (s *ChannelSession) StateAsync(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)

		state, st, err := s.State(ctx)
		out <- Result{State: state, Status: st, Err: err}
	}()

	return out
}

// DetectPeerCrash reports once the opposite party's registration lock
// is free again, meaning that process exited, clean or crashed.
// Supplements spec.md §9's documented limitation that a crash leaves a
// channel un-reopenable from that side; this lets a long-lived server
// at least observe it instead of only timing out on
// wait_client_connected.
func (s *ChannelSession) DetectPeerCrash(ctx context.Context) (<-chan struct{}, error) {
	peerSuffix := plat.SuffixReaderRegistration
	if s.direction == Inbound {
		peerSuffix = plat.SuffixWriterRegistration
	}

	return registry.WatchPeerCrash(ctx, path(s.dir, peerSuffix))
}
