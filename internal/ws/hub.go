package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"encchat/internal/auth"
	"encchat/internal/crypt"
	"encchat/internal/store"
)

// Options 控制连接级的超时与限流。
type Options struct {
	SendTimeout       time.Duration
	PersistTimeout    time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultOptions() Options {
	return Options{
		SendTimeout:       2 * time.Second,
		PersistTimeout:    5 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageBytes:   64 << 10,
		MessagesPerSecond: 10,
		MessageBurst:      20,
	}
}

// Hub 持有房间注册表，并为每条连接运行一个会话。
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	verifier    auth.Verifier
	cipher      crypt.Cipher
	store       store.MessageStore
	opts        Options
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewHub(v auth.Verifier, c crypt.Cipher, s store.MessageStore, opts Options) *Hub {
	def := DefaultOptions()
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = def.PersistTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:    reg,
		broadcaster: NewBroadcaster(reg),
		verifier:    v,
		cipher:      c,
		store:       s,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) Options() Options { return h.opts }

func (h *Hub) Online(room string) int { return h.registry.Online(room) }

func (h *Hub) Rooms() []RoomStat { return h.registry.Rooms() }

// Connections 返回所有房间的在线连接总数。
func (h *Hub) Connections() int { return h.registry.Total() }

// Serve 阻塞运行 p 的会话直到连接关闭。Shutdown 之后调用会立即以 1001 关闭 p。
func (h *Hub) Serve(p Peer, room, token string, l zerolog.Logger) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = p.Close(CloseGoingAway, "server shutting down")
		return ErrShuttingDown
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	return newSession(h, p, room, token, l).run(h.ctx)
}

// Shutdown 通知全部会话关闭并等待它们退出，超时返回 context.DeadlineExceeded。
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	}
}
