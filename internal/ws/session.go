package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"encchat/internal/auth"
	"encchat/internal/metrics"
)

// State 是单个连接会话所处的阶段。
type State int

const (
	StateConnected State = iota
	StateAuthenticating
	StateRejected
	StateJoined
	StateReceiving
	StateEncrypting
	StatePersisting
	StateBroadcasting
	StateLeaving
	StateClosed
)

var stateNames = [...]string{
	"connected", "authenticating", "rejected", "joined", "receiving",
	"encrypting", "persisting", "broadcasting", "leaving", "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func joinNotice(user, room string) string { return fmt.Sprintf("[system] %s joined '%s'", user, room) }
func leftNotice(user, room string) string { return fmt.Sprintf("[system] %s left '%s'", user, room) }
func chatLine(user, text string) string   { return user + ": " + text }

// Session 驱动一条连接从鉴权到关闭的完整生命周期。
// 同一会话内的消息严格按接收顺序处理：持久化完成之前不会读取下一条。
type Session struct {
	hub      *Hub
	peer     Peer
	room     string
	token    string
	identity string
	state    State
	limiter  *rate.Limiter
	log      zerolog.Logger

	// observe 仅供测试记录状态迁移。
	observe func(State)
}

func newSession(h *Hub, p Peer, room, token string, l zerolog.Logger) *Session {
	s := &Session{
		hub:   h,
		peer:  p,
		room:  room,
		token: token,
		state: StateConnected,
		log:   l.With().Str("conn_id", uuid.NewString()).Str("room", room).Logger(),
	}
	if h.opts.MessagesPerSecond > 0 {
		burst := h.opts.MessageBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), burst)
	}
	return s
}

func (s *Session) transition(to State) {
	s.state = to
	if s.observe != nil {
		s.observe(to)
	}
}

// Identity 是鉴权通过后的用户名，鉴权前为空。
func (s *Session) Identity() string { return s.identity }

// run 在 ctx 取消时以 1001 关闭连接，并照常走离开流程。
func (s *Session) run(ctx context.Context) error {
	s.transition(StateAuthenticating)
	if s.token == "" {
		return s.reject(auth.ErrMissingToken)
	}
	out := s.hub.verifier.Verify(s.token)
	if !out.OK() {
		return s.reject(out.Reason)
	}
	s.identity = out.Identity
	s.log = s.log.With().Str("username", s.identity).Logger()

	if ctx.Err() != nil {
		_ = s.peer.Close(CloseGoingAway, "server shutting down")
		s.transition(StateClosed)
		return ErrShuttingDown
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.peer.Close(CloseGoingAway, "server shutting down")
	})
	defer stop()

	s.join()
	err := s.receive(ctx)
	s.leave()
	s.close(err)
	return err
}

func (s *Session) reject(reason error) error {
	s.transition(StateRejected)
	if reason == nil {
		reason = auth.ErrMissingIdentity
	}
	metrics.AuthRejectionsTotal.WithLabelValues(auth.ReasonLabel(reason)).Inc()
	s.log.Info().Str("reason", auth.ReasonLabel(reason)).Msg("connection rejected")
	_ = s.peer.Close(CloseUnauthorized, "unauthorized")
	s.transition(StateClosed)
	return fmt.Errorf("%w: %w", ErrRejected, reason)
}

func (s *Session) join() {
	s.transition(StateJoined)
	s.hub.registry.Join(s.room, s.peer)
	s.log.Info().Int("online", s.hub.registry.Online(s.room)).Msg("joined room")
	s.hub.broadcaster.Broadcast(s.room, joinNotice(s.identity, s.room))
}

// receive 返回 nil 表示对端正常断开或服务关闭。
func (s *Session) receive(ctx context.Context) error {
	for {
		s.transition(StateReceiving)
		text, err := s.peer.Receive()
		if err != nil {
			if errors.Is(err, ErrPeerGone) {
				return nil
			}
			return err
		}
		if text == "" {
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if err := s.relay(ctx, text); err != nil {
			return err
		}
	}
}

// relay 先加密落库，成功后才广播；任何一步失败都不广播。
func (s *Session) relay(ctx context.Context, text string) error {
	s.transition(StateEncrypting)
	ciphertext, err := s.hub.cipher.Encrypt(text)
	if err != nil {
		metrics.PersistFailuresTotal.Inc()
		return fmt.Errorf("%w: encrypt: %w", ErrNotPersisted, err)
	}

	s.transition(StatePersisting)
	// 服务关闭时已开始的写入仍需完成，只受自身超时约束。
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hub.opts.PersistTimeout)
	id, err := s.hub.store.Append(pctx, s.room, s.identity, ciphertext, s.hub.now())
	cancel()
	if err != nil {
		metrics.PersistFailuresTotal.Inc()
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}

	s.transition(StateBroadcasting)
	metrics.WsMessagesTotal.Inc()
	s.hub.broadcaster.Broadcast(s.room, chatLine(s.identity, text))
	s.log.Debug().Uint("message_id", id).Msg("message relayed")
	return nil
}

func (s *Session) leave() {
	s.transition(StateLeaving)
	s.hub.registry.Leave(s.room, s.peer)
	s.log.Info().Msg("left room")
	s.hub.broadcaster.Broadcast(s.room, leftNotice(s.identity, s.room))
}

func (s *Session) close(cause error) {
	var pe *ProtocolError
	switch {
	case cause == nil:
		_ = s.peer.Close(CloseNormal, "")
	case errors.As(cause, &pe):
		s.log.Warn().Err(cause).Msg("closing on protocol violation")
		_ = s.peer.Close(pe.Code, pe.Reason)
	case errors.Is(cause, ErrNotPersisted):
		s.log.Error().Err(cause).Msg("closing after failed persist")
		_ = s.peer.Close(CloseInternal, "message not persisted")
	default:
		s.log.Error().Err(cause).Msg("closing on receive error")
		_ = s.peer.Close(CloseInternal, "internal error")
	}
	s.transition(StateClosed)
}
