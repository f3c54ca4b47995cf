package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "receiving", StateReceiving.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestSession_RejectsWithoutJoining(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing token", "", "missing token"},
		{"unknown token", "forged", "signature mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &memStore{}
			h := newTestHub(t, st, Options{})
			watcher := newFakePeer("watcher")
			h.registry.Join("lobby", watcher)

			p := newFakePeer("intruder")
			s := newSession(h, p, "lobby", tt.token, zerolog.Nop())
			var states []State
			s.observe = func(st State) { states = append(states, st) }

			err := s.run(h.ctx)

			require.ErrorIs(t, err, ErrRejected)
			assert.Contains(t, err.Error(), tt.reason)
			assert.Equal(t, CloseUnauthorized, p.closeCode())
			assert.Equal(t, []State{StateAuthenticating, StateRejected, StateClosed}, states)
			assert.Equal(t, 1, h.Online("lobby"))
			assert.Empty(t, watcher.received(), "a rejected connection announces nothing")
			assert.Zero(t, st.count())
		})
	}
}

func TestSession_Lifecycle(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{})
	p := newFakePeer("alice")
	s := newSession(h, p, "lobby", "tok-alice", zerolog.Nop())
	var (
		mu     sync.Mutex
		states []State
	)
	s.observe = func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}

	p.say("hi")
	p.hangUp()
	require.NoError(t, s.run(h.ctx))

	assert.Equal(t, "alice", s.Identity())
	assert.Equal(t, []State{
		StateAuthenticating, StateJoined,
		StateReceiving, StateEncrypting, StatePersisting, StateBroadcasting,
		StateReceiving, StateLeaving, StateClosed,
	}, states)
	assert.Equal(t, []string{"[system] alice joined 'lobby'", "alice: hi"}, p.received())
	assert.Equal(t, CloseNormal, p.closeCode())
	assert.Equal(t, 0, h.Online("lobby"))
}

func TestSession_LateJoinerSeesNoBacklog(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{})
	alice, bob := newFakePeer("alice"), newFakePeer("bob")

	aliceDone := serve(h, alice, "lobby", "tok-alice")
	alice.say("hi")
	require.Eventually(t, func() bool { return len(alice.received()) == 2 }, waitFor, tick)
	require.Equal(t, 1, st.count())

	bobDone := serve(h, bob, "lobby", "tok-bob")
	require.Eventually(t, func() bool {
		return len(bob.received()) == 1 && len(alice.received()) == 3
	}, waitFor, tick)
	alice.say("yo")
	require.Eventually(t, func() bool { return len(bob.received()) == 2 }, waitFor, tick)

	assert.Equal(t, []string{"[system] bob joined 'lobby'", "alice: yo"}, bob.received())
	assert.Equal(t, []string{
		"[system] alice joined 'lobby'",
		"alice: hi",
		"[system] bob joined 'lobby'",
		"alice: yo",
	}, alice.received())

	bob.hangUp()
	require.NoError(t, waitErr(t, bobDone))
	require.Eventually(t, func() bool { return len(alice.received()) == 5 }, waitFor, tick)
	assert.Equal(t, "[system] bob left 'lobby'", alice.received()[4])

	alice.hangUp()
	require.NoError(t, waitErr(t, aliceDone))
	assert.Equal(t, 0, h.Online("lobby"))
}

func TestSession_PreservesOrder(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{})
	alice, bob := newFakePeer("alice"), newFakePeer("bob")

	bobDone := serve(h, bob, "lobby", "tok-bob")
	require.Eventually(t, func() bool { return h.Online("lobby") == 1 }, waitFor, tick)
	aliceDone := serve(h, alice, "lobby", "tok-alice")
	require.Eventually(t, func() bool { return h.Online("lobby") == 2 }, waitFor, tick)

	const n = 30
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		alice.say(fmt.Sprintf("m%02d", i))
		want = append(want, fmt.Sprintf("alice: m%02d", i))
	}
	chat := func() []string {
		var out []string
		for _, line := range bob.received() {
			if strings.HasPrefix(line, "alice: ") {
				out = append(out, line)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(chat()) == n }, waitFor, tick)
	assert.Equal(t, want, chat())

	rows, err := st.QueryRecent(context.Background(), "lobby", n)
	require.NoError(t, err)
	require.Len(t, rows, n)
	for i, row := range rows {
		text, err := h.cipher.Decrypt(row.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%02d", n-1-i), text, "stored newest first")
		assert.Equal(t, "alice", row.Sender)
	}

	alice.hangUp()
	bob.hangUp()
	require.NoError(t, waitErr(t, aliceDone))
	require.NoError(t, waitErr(t, bobDone))
}

func TestSession_PersistFailureClosesSender(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{})
	alice, bob := newFakePeer("alice"), newFakePeer("bob")

	bobDone := serve(h, bob, "lobby", "tok-bob")
	aliceDone := serve(h, alice, "lobby", "tok-alice")
	require.Eventually(t, func() bool { return h.Online("lobby") == 2 }, waitFor, tick)

	st.setFail(true)
	alice.say("lost")
	err := waitErr(t, aliceDone)

	require.ErrorIs(t, err, ErrNotPersisted)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, CloseInternal, alice.closeCode())
	assert.Zero(t, st.count())
	require.Eventually(t, func() bool {
		got := bob.received()
		return len(got) > 0 && got[len(got)-1] == "[system] alice left 'lobby'"
	}, waitFor, tick)
	assert.NotContains(t, bob.received(), "alice: lost")
	assert.Equal(t, 1, h.Online("lobby"))

	bob.hangUp()
	require.NoError(t, waitErr(t, bobDone))
}

func TestSession_EmptyFramesIgnored(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{})
	p := newFakePeer("alice")

	p.say("")
	p.say("real")
	p.hangUp()
	require.NoError(t, h.Serve(p, "lobby", "tok-alice", zerolog.Nop()))

	assert.Equal(t, 1, st.count())
	assert.Equal(t, []string{"[system] alice joined 'lobby'", "alice: real"}, p.received())
}

func TestSession_ProtocolViolation(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{})
	p := newFakePeer("alice")

	p.inbox <- frame{err: &ProtocolError{Code: CloseUnsupported, Reason: "text frames only"}}
	err := h.Serve(p, "lobby", "tok-alice", zerolog.Nop())

	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, CloseUnsupported, p.closeCode())
	assert.Equal(t, 0, h.Online("lobby"))
}

func TestSession_UnexpectedReceiveError(t *testing.T) {
	h := newTestHub(t, &memStore{}, Options{})
	p := newFakePeer("alice")
	boom := errors.New("boom")

	p.inbox <- frame{err: boom}
	err := h.Serve(p, "lobby", "tok-alice", zerolog.Nop())

	require.ErrorIs(t, err, boom)
	assert.Equal(t, CloseInternal, p.closeCode())
}

func TestSession_ThrottledStillDeliversEverything(t *testing.T) {
	st := &memStore{}
	h := newTestHub(t, st, Options{MessagesPerSecond: 500, MessageBurst: 1})
	p := newFakePeer("alice")

	for i := 0; i < 5; i++ {
		p.say(fmt.Sprintf("m%d", i))
	}
	p.hangUp()
	require.NoError(t, h.Serve(p, "lobby", "tok-alice", zerolog.Nop()))

	assert.Equal(t, 5, st.count())
}

func TestHub_Shutdown(t *testing.T) {
	st := &memStore{}
	h := NewHub(tokenVerifier{"tok-alice": "alice", "tok-bob": "bob"}, newTestCipher(t), st, Options{})
	alice, bob := newFakePeer("alice"), newFakePeer("bob")

	aliceDone := serve(h, alice, "lobby", "tok-alice")
	bobDone := serve(h, bob, "lobby", "tok-bob")
	require.Eventually(t, func() bool { return h.Online("lobby") == 2 }, waitFor, tick)

	require.NoError(t, h.Shutdown(waitFor))

	assert.NoError(t, waitErr(t, aliceDone))
	assert.NoError(t, waitErr(t, bobDone))
	assert.Equal(t, CloseGoingAway, alice.closeCode())
	assert.Equal(t, CloseGoingAway, bob.closeCode())
	assert.Equal(t, 0, h.Online("lobby"))

	late := newFakePeer("late")
	err := h.Serve(late, "lobby", "tok-alice", zerolog.Nop())
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, CloseGoingAway, late.closeCode())
}
