package ws

import (
	"errors"

	"github.com/gorilla/websocket"
)

// 关闭码。4401 为应用自定义，表示鉴权失败。
const (
	CloseUnauthorized = 4401
	CloseNormal       = websocket.CloseNormalClosure
	CloseGoingAway    = websocket.CloseGoingAway
	CloseUnsupported  = websocket.CloseUnsupportedData
	ClosePolicy       = websocket.ClosePolicyViolation
	CloseTooBig       = websocket.CloseMessageTooBig
	CloseInternal     = websocket.CloseInternalServerErr
)

var (
	ErrPeerGone     = errors.New("ws: peer disconnected")
	ErrSendTimeout  = errors.New("ws: send timed out")
	ErrProtocol     = errors.New("ws: protocol violation")
	ErrShuttingDown = errors.New("ws: hub is shutting down")
	ErrRejected     = errors.New("ws: connection rejected")
	ErrNotPersisted = errors.New("ws: message not persisted")
)

// Peer 是一条已升级的双向连接，Hub 只通过它收发文本。
//
// Send 可被多个 goroutine 并发调用；Receive 只由所属会话调用；
// Close 幂等，首次调用决定对端看到的关闭码。
type Peer interface {
	Send(text string) error
	Receive() (string, error)
	Close(code int, reason string) error
}

// ProtocolError 表示对端发送了不被接受的帧，Code 为回给对端的关闭码。
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string { return "ws: protocol violation: " + e.Reason }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
