package ws

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"encchat/internal/auth"
	clog "encchat/internal/log"
)

const (
	maxRoomBytes = 128
	sendBuffer   = 256

	// closeWait 限制关闭帧的写入等待，写锁被慢连接占住时不会一直阻塞。
	closeWait = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ValidRoom 报告 name 能否作为房间名：1 到 128 字节的合法 UTF-8。
func ValidRoom(name string) bool {
	return name != "" && len(name) <= maxRoomBytes && utf8.ValidString(name)
}

// wsPeer 基于 gorilla/websocket 实现 Peer。写操作全部由 writePump 串行完成。
type wsPeer struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	sendTimeout  time.Duration
	pingInterval time.Duration
}

func newPeer(conn *websocket.Conn, opts Options) *wsPeer {
	p := &wsPeer{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		sendTimeout:  opts.SendTimeout,
		pingInterval: opts.PingInterval,
	}
	conn.SetReadLimit(opts.MaxMessageBytes)
	if p.pingInterval > 0 {
		// 没有空闲超时，只要对端还在回应 ping 就保持连接。
		pongWait := 2 * p.pingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	go p.writePump()
	return p
}

// Send 在发送队列满时最多等待 sendTimeout。
func (p *wsPeer) Send(text string) error {
	select {
	case <-p.done:
		return ErrPeerGone
	default:
	}
	timer := time.NewTimer(p.sendTimeout)
	defer timer.Stop()
	select {
	case p.send <- []byte(text):
		return nil
	case <-p.done:
		return ErrPeerGone
	case <-timer.C:
		return ErrSendTimeout
	}
}

func (p *wsPeer) Receive() (string, error) {
	typ, data, err := p.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return "", &ProtocolError{Code: CloseTooBig, Reason: "message too big"}
		}
		return "", fmt.Errorf("%w: %w", ErrPeerGone, err)
	}
	if typ != websocket.TextMessage {
		return "", &ProtocolError{Code: CloseUnsupported, Reason: "text frames only"}
	}
	if !utf8.Valid(data) {
		return "", &ProtocolError{Code: websocket.CloseInvalidFramePayloadData, Reason: "invalid utf-8"}
	}
	return string(data), nil
}

func (p *wsPeer) Close(code int, reason string) error {
	p.terminate(websocket.FormatCloseMessage(code, reason))
	return nil
}

// terminate 只执行一次；frame 为 nil 时直接断开底层连接。
func (p *wsPeer) terminate(frame []byte) {
	p.closeOnce.Do(func() {
		close(p.done)
		if frame != nil {
			_ = p.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeWait))
		}
		_ = p.conn.Close()
	})
}

func (p *wsPeer) writePump() {
	var tick <-chan time.Time
	if p.pingInterval > 0 {
		ticker := time.NewTicker(p.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-p.done:
			return
		case message := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.sendTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				p.terminate(nil)
				return
			}
		case <-tick:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.sendTimeout)); err != nil {
				p.terminate(nil)
				return
			}
		}
	}
}

// ServeWS 处理 /ws/:room。令牌取自 token 查询参数或 Authorization 头；
// 鉴权在升级之后进行，失败时以 4401 关闭，使浏览器客户端能读到关闭码。
func ServeWS(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		if !ValidRoom(room) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
			return
		}
		token := auth.TokenFromRequest(c)

		l := clog.Ctx(c.Request.Context())
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			l.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		peer := newPeer(conn, h.Options())
		err = h.Serve(peer, room, token, *l)
		if err != nil && !errors.Is(err, ErrRejected) {
			l.Debug().Err(err).Msg("session ended with error")
		}
		l.Debug().Str("room", room).Int("room_online", h.Online(room)).Msg("websocket closed")
	}
}
