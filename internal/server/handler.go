package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"encchat/internal/auth"
	clog "encchat/internal/log"
	"encchat/internal/service"
	"encchat/internal/ws"

	"github.com/gin-gonic/gin"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	roomSvc    *service.RoomService
	historySvc *service.HistoryService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, historySvc *service.HistoryService) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, historySvc: historySvc}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 处理用户注册请求，成功后直接返回 access token。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		clog.Ctx(c.Request.Context()).Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		clog.Ctx(c.Request.Context()).Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    result.TokenType,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		clog.Ctx(c.Request.Context()).Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Healthz 返回存活状态和当前在线连接数。
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.roomSvc.Connections()})
}

// ListRooms 返回当前有人在线的房间。
func (h *Handler) ListRooms(c *gin.Context) {
	clog.Ctx(c.Request.Context()).Debug().Str("username", auth.GetUsername(c)).Msg("list rooms")
	c.JSON(http.StatusOK, gin.H{"rooms": h.roomSvc.List(100)})
}

// History 返回房间最近的消息明文，按 id 升序。
func (h *Handler) History(c *gin.Context) {
	room := c.Param("room")
	if !ws.ValidRoom(room) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	}
	limit := service.DefaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	l := clog.Ctx(c.Request.Context())
	entries, err := h.historySvc.History(c.Request.Context(), room, auth.TokenFromRequest(c), limit)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	case errors.Is(err, service.ErrHistoryCorrupt):
		l.Error().Err(err).Str("room", room).Msg("history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	default:
		l.Error().Err(err).Str("room", room).Msg("history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	l.Info().Str("room", room).Int("limit", limit).Int("count", len(entries)).Msg("history served")
	c.JSON(http.StatusOK, entries)
}
