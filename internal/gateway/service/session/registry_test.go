package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	lastRaw json.RawMessage
	err     error
}

func (f *fakeSubmitter) SubmitSession(_ context.Context, clientID string, params json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastRaw = params
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("wi-%s-%d", clientID, f.calls), nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartOrContinueSubmitsOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	h1, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"height":"750"}`))
	if err != nil {
		t.Fatalf("StartOrContinue(p1) error = %v", err)
	}
	h2, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"height":"800"}`))
	if err != nil {
		t.Fatalf("StartOrContinue(p2) error = %v", err)
	}
	if sub.callCount() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.callCount())
	}
	if h1 != h2 {
		t.Fatalf("StartOrContinue() handles %q and %q, want the stored handle both times", h1, h2)
	}

	// The second call's parameters must be waiting in the rendezvous.
	params, err := reg.AwaitNextInput(context.Background(), "c1")
	if err != nil {
		t.Fatalf("AwaitNextInput() error = %v", err)
	}
	if string(params) != `{"height":"800"}` {
		t.Fatalf("AwaitNextInput() = %s, want the second revision", params)
	}
}

func TestRendezvousIsSingleUse(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}
	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("StartOrContinue(p2) error = %v", err)
	}

	got, err := reg.AwaitNextInput(context.Background(), "c1")
	if err != nil {
		t.Fatalf("AwaitNextInput() error = %v", err)
	}
	if string(got) != `{"n":2}` {
		t.Fatalf("AwaitNextInput() = %s, want {\"n\":2}", got)
	}

	// Cell consumed: the next pull must suspend until another revision.
	gotCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		p, err := reg.AwaitNextInput(context.Background(), "c1")
		if err != nil {
			errCh <- err
			return
		}
		gotCh <- p
	}()

	select {
	case p := <-gotCh:
		t.Fatalf("AwaitNextInput() returned %s before a new revision", p)
	case err := <-errCh:
		t.Fatalf("AwaitNextInput() early error = %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":3}`)); err != nil {
		t.Fatalf("StartOrContinue(p3) error = %v", err)
	}

	select {
	case p := <-gotCh:
		if string(p) != `{"n":3}` {
			t.Fatalf("AwaitNextInput() = %s, want {\"n\":3}", p)
		}
	case err := <-errCh:
		t.Fatalf("AwaitNextInput() error = %v", err)
	case <-time.After(time.Second):
		t.Fatalf("AwaitNextInput() timed out")
	}
}

func TestStartOrContinueRejectsUnconsumedRevision(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}
	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("StartOrContinue(p2) error = %v", err)
	}
	_, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":3}`))
	if !errors.Is(err, ErrInputPending) {
		t.Fatalf("StartOrContinue(p3) error = %v, want ErrInputPending", err)
	}
	if sub.callCount() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.callCount())
	}
}

func TestStartEvictsPlaceholderLeftByStrayPull(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		_, err := reg.AwaitNextInput(context.Background(), "c1")
		errCh <- err
	}()

	select {
	case err := <-errCh:
		t.Fatalf("AwaitNextInput() returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	// No job ever backed that pull's entry, so this start must submit a
	// fresh job and release the pull rather than feed its rendezvous.
	handle, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}
	if handle == "" {
		t.Fatalf("StartOrContinue() returned an empty handle")
	}
	if sub.callCount() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.callCount())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("AwaitNextInput() error = %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("stray pull not released by the new session")
	}
}

func TestAwaitNextInputTimesOut(t *testing.T) {
	reg := NewRegistry(&fakeSubmitter{}, 10*time.Millisecond)

	_, err := reg.AwaitNextInput(context.Background(), "c1")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("AwaitNextInput() error = %v, want ErrPollTimeout", err)
	}
}

func TestTimedOutPullLeavesSessionStartable(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, 10*time.Millisecond)

	if _, err := reg.AwaitNextInput(context.Background(), "c1"); !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("AwaitNextInput() error = %v, want ErrPollTimeout", err)
	}
	if reg.Active("c1") {
		t.Fatalf("timed-out pull left a session entry behind")
	}

	handle, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}
	if handle == "" {
		t.Fatalf("StartOrContinue() returned an empty handle")
	}
	if sub.callCount() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.callCount())
	}
}

func TestCancelledPullLeavesSessionStartable(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := reg.AwaitNextInput(ctx, "c1")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("AwaitNextInput() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("AwaitNextInput() not released by cancellation")
	}

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}
	if sub.callCount() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.callCount())
	}
}

func TestTimedOutPullKeepsEstablishedSession(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, 10*time.Millisecond)

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}

	// The session job itself timing out on a pull must not tear down the
	// session; the next pull after a revision still succeeds.
	if _, err := reg.AwaitNextInput(context.Background(), "c1"); !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("AwaitNextInput() error = %v, want ErrPollTimeout", err)
	}
	if !reg.Active("c1") {
		t.Fatalf("timed-out pull removed an established session")
	}

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("StartOrContinue(p2) error = %v", err)
	}
	if sub.callCount() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.callCount())
	}
	got, err := reg.AwaitNextInput(context.Background(), "c1")
	if err != nil {
		t.Fatalf("AwaitNextInput() error = %v", err)
	}
	if string(got) != `{"n":2}` {
		t.Fatalf("AwaitNextInput() = %s, want {\"n\":2}", got)
	}
}

func TestCompleteIgnoresStaleHandle(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	handle, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}

	if reg.Complete("c1", "wi-someone-else") {
		t.Fatalf("Complete() with stale handle removed the session")
	}
	if !reg.Active("c1") {
		t.Fatalf("session missing after stale completion")
	}

	if !reg.Complete("c1", handle) {
		t.Fatalf("Complete() with the stored handle did not remove the session")
	}
	if reg.Active("c1") {
		t.Fatalf("session still present after completion")
	}
}

func TestCompleteReleasesWaiters(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := NewRegistry(sub, time.Minute)

	handle, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("StartOrContinue() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := reg.AwaitNextInput(context.Background(), "c1")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	reg.Complete("c1", handle)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("AwaitNextInput() error = %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("AwaitNextInput() not released by completion")
	}
}

func TestSubmitFailureDropsEntry(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("submit failed")}
	reg := NewRegistry(sub, time.Minute)

	if _, err := reg.StartOrContinue(context.Background(), "c1", json.RawMessage(`{"n":1}`)); err == nil {
		t.Fatalf("StartOrContinue() expected error")
	}
	if reg.Active("c1") {
		t.Fatalf("failed submission left a session entry behind")
	}
}
