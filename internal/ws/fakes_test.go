package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"encchat/internal/auth"
	"encchat/internal/crypt"
	"encchat/internal/models"
)

type frame struct {
	text string
	err  error
}

// fakePeer 在内存中模拟一条连接。关闭 inbox 等同于客户端断开。
type fakePeer struct {
	name    string
	inbox   chan frame
	sendErr error

	mu   sync.Mutex
	got  []string
	code int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePeer(name string) *fakePeer {
	return &fakePeer{name: name, inbox: make(chan frame, 64), closed: make(chan struct{})}
}

func (p *fakePeer) Send(text string) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	select {
	case <-p.closed:
		return ErrPeerGone
	default:
	}
	p.mu.Lock()
	p.got = append(p.got, text)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Receive() (string, error) {
	select {
	case f, ok := <-p.inbox:
		if !ok {
			return "", ErrPeerGone
		}
		return f.text, f.err
	case <-p.closed:
		return "", ErrPeerGone
	}
}

func (p *fakePeer) Close(code int, reason string) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.closed)
	})
	return nil
}

func (p *fakePeer) say(text string) { p.inbox <- frame{text: text} }

func (p *fakePeer) hangUp() { close(p.inbox) }

func (p *fakePeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.got...)
}

func (p *fakePeer) closeCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakePeer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(token string) auth.Outcome {
	if token == "" {
		return auth.Rejected(auth.ErrMissingToken)
	}
	if user, ok := v[token]; ok {
		return auth.Authenticated(user)
	}
	return auth.Rejected(auth.ErrSignatureMismatch)
}

var errStoreDown = errors.New("store unavailable")

type memStore struct {
	mu   sync.Mutex
	rows []models.Message
	fail bool
}

func (s *memStore) Append(_ context.Context, room, sender string, ciphertext []byte, ts time.Time) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errStoreDown
	}
	id := uint(len(s.rows) + 1)
	s.rows = append(s.rows, models.Message{ID: id, Room: room, Sender: sender, Ciphertext: ciphertext, CreatedAt: ts})
	return id, nil
}

func (s *memStore) QueryRecent(_ context.Context, room string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].Room == room {
			out = append(out, s.rows[i])
		}
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func newTestCipher(t *testing.T) *crypt.AEAD {
	t.Helper()
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	c, err := crypt.NewFromBase64(key)
	require.NoError(t, err)
	return c
}

func newTestHub(t *testing.T, st *memStore, opts Options) *Hub {
	t.Helper()
	v := tokenVerifier{"tok-alice": "alice", "tok-bob": "bob", "tok-carol": "carol"}
	h := NewHub(v, newTestCipher(t), st, opts)
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

// serve 在后台运行会话，返回的 channel 在 Serve 返回时收到其错误。
func serve(h *Hub, p Peer, room, token string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.Serve(p, room, token, zerolog.Nop()) }()
	return done
}
