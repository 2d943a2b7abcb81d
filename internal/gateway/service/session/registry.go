// Package session tracks long-lived workitems, one per connected client.
//
// In session mode a single remote job stays alive across parameter
// revisions: after each iteration it calls back into the gateway asking
// for the next input. The registry is the rendezvous between that pull
// and the client's next start request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSessionClosed reports a wait cancelled by session completion.
	ErrSessionClosed = errors.New("session closed")
	// ErrPollTimeout reports a pull that no start request resolved in time.
	ErrPollTimeout = errors.New("session input wait timed out")
	// ErrInputPending reports a revision submitted before the remote job
	// consumed the previous one.
	ErrInputPending = errors.New("previous session input not yet consumed")
)

// Submitter starts the long-lived remote job backing a session. The
// first parameter set travels inline with the submission; later revisions
// reach the job through the rendezvous.
type Submitter interface {
	SubmitSession(ctx context.Context, clientID string, params json.RawMessage) (string, error)
}

type entry struct {
	// handle and submitting are guarded by the registry mutex. An entry
	// with an empty handle and submitting unset belongs to no job: it is
	// a placeholder a pull left behind, not a session.
	handle     string
	submitting bool
	waiters    int

	// inputCh is the single-slot rendezvous cell. Capacity 1 so a start
	// request can fulfil it without waiting for the poll to arrive; a
	// second unconsumed fulfilment is rejected, never overwritten.
	inputCh   chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newEntry() *entry {
	return &entry{
		inputCh: make(chan json.RawMessage, 1),
		done:    make(chan struct{}),
	}
}

func (e *entry) close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

// Registry owns the per-client session entries. All map mutations happen
// under one mutex; the blocking waits happen on the entry channels outside
// it, so different clients never contend beyond the map access itself.
type Registry struct {
	submitter   Submitter
	pollTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(submitter Submitter, pollTimeout time.Duration) *Registry {
	if pollTimeout <= 0 {
		pollTimeout = 15 * time.Minute
	}
	return &Registry{
		submitter:   submitter,
		pollTimeout: pollTimeout,
		entries:     make(map[string]*entry),
	}
}

// StartOrContinue hands a parameter revision to the client's session.
// The first call for a client submits the remote job with the parameters
// inline; every later call only resolves the pending rendezvous. This is
// what keeps the session at one concurrent remote job no matter how fast
// revisions arrive.
func (r *Registry) StartOrContinue(ctx context.Context, clientID string, params json.RawMessage) (string, error) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	var stale *entry
	if ok && e.handle == "" && !e.submitting {
		// A pull created this entry but no job was ever submitted for
		// it. Evict it so the session can actually start; closing it
		// releases any pull still parked on the dead rendezvous.
		delete(r.entries, clientID)
		stale = e
		ok = false
	}
	if !ok {
		e = newEntry()
		e.submitting = true
		r.entries[clientID] = e
	}
	r.mu.Unlock()

	if stale != nil {
		log.Warn().Str("client_id", clientID).Msg("evicting session placeholder with no job behind it")
		stale.close()
	}

	if !ok {
		handle, err := r.submitter.SubmitSession(ctx, clientID, params)
		if err != nil {
			r.drop(clientID, e)
			return "", err
		}
		r.mu.Lock()
		e.handle = handle
		e.submitting = false
		r.mu.Unlock()
		return handle, nil
	}

	select {
	case <-e.done:
		return "", ErrSessionClosed
	case e.inputCh <- params:
	default:
		log.Warn().Str("client_id", clientID).Msg("session input rejected, previous revision unconsumed")
		return "", ErrInputPending
	}

	// During the submission window of a concurrent first call the stored
	// handle is still empty; the revision is queued all the same.
	r.mu.Lock()
	handle := e.handle
	r.mu.Unlock()
	return handle, nil
}

// AwaitNextInput blocks the remote job's pull until a revision arrives.
// Each fulfilment is consumed exactly once. A pull with no session behind
// it waits too, but its placeholder entry is reaped when the wait ends
// empty, and a start request arriving meanwhile evicts it and submits.
func (r *Registry) AwaitNextInput(ctx context.Context, clientID string) (json.RawMessage, error) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	if !ok {
		e = newEntry()
		r.entries[clientID] = e
	}
	e.waiters++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		e.waiters--
		r.mu.Unlock()
	}()

	timer := time.NewTimer(r.pollTimeout)
	defer timer.Stop()

	select {
	case params := <-e.inputCh:
		return params, nil
	case <-e.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		r.reapOrphan(clientID, e)
		return nil, ctx.Err()
	case <-timer.C:
		// A revision racing the timer is delivered, not lost.
		select {
		case params := <-e.inputCh:
			return params, nil
		default:
		}
		r.reapOrphan(clientID, e)
		return nil, ErrPollTimeout
	}
}

// reapOrphan removes an entry that only ever existed for an abandoned
// pull. Left in place it would make the next start request feed a
// rendezvous nothing reads instead of submitting a job.
func (r *Registry) reapOrphan(clientID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[clientID]; ok && cur == e && e.handle == "" && !e.submitting && e.waiters == 1 {
		delete(r.entries, clientID)
	}
}

// Complete removes the session if the reported handle matches the stored
// one. Mismatches come from stale or duplicate completion callbacks of a
// superseded job and leave the entry untouched.
func (r *Registry) Complete(clientID, handle string) bool {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	if !ok || e.handle != handle {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, clientID)
	r.mu.Unlock()

	e.close()
	return true
}

// Active reports whether a session entry exists for the client.
func (r *Registry) Active(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[clientID]
	return ok
}

func (r *Registry) drop(clientID string, e *entry) {
	r.mu.Lock()
	if cur, ok := r.entries[clientID]; ok && cur == e {
		delete(r.entries, clientID)
	}
	r.mu.Unlock()
	e.close()
}
