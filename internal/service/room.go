package service

import (
	"encchat/internal/ws"
)

// RoomService 暴露当前在线的房间。房间不落库，只存在于注册表中。
type RoomService struct {
	hub *ws.Hub
}

func NewRoomService(hub *ws.Hub) *RoomService {
	return &RoomService{hub: hub}
}

// List 返回至多 limit 个在线房间，按名称排序。
func (s *RoomService) List(limit int) []ws.RoomStat {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rooms := s.hub.Rooms()
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms
}

// Connections 返回全部房间的在线连接数。
func (s *RoomService) Connections() int {
	return s.hub.Connections()
}
