package ws

import (
	"sort"
	"sync"

	"encchat/internal/metrics"
)

// RoomStat 是某个房间的在线快照。
type RoomStat struct {
	Name   string `json:"name"`
	Online int    `json:"online"`
}

// Registry 记录房间到连接的归属。房间在第一个连接加入时出现，最后一个离开时消失。
// 一个连接同一时刻最多属于一个房间。
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[Peer]struct{}
	where map[Peer]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[Peer]struct{}),
		where: make(map[Peer]string),
	}
}

// Join 把 p 加入 room；若 p 已在其他房间，先从旧房间移出。
// 返回值表示成员关系是否发生变化。
func (r *Registry) Join(room string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.where[p]; ok {
		if cur == room {
			return false
		}
		r.removeLocked(cur, p)
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[Peer]struct{})
		r.rooms[room] = members
	}
	members[p] = struct{}{}
	r.where[p] = room
	metrics.WsConnections.Inc()
	return true
}

// Leave 把 p 从 room 移出，不在其中时为空操作。
func (r *Registry) Leave(room string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.where[p]; !ok || cur != room {
		return false
	}
	r.removeLocked(room, p)
	return true
}

func (r *Registry) removeLocked(room string, p Peer) {
	members := r.rooms[room]
	delete(members, p)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	delete(r.where, p)
	metrics.WsConnections.Dec()
}

// Members 返回成员快照，调用方可在锁外遍历。
func (r *Registry) Members(room string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Peer, 0, len(members))
	for p := range members {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Online(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms 按名称排序返回所有非空房间。
func (r *Registry) Rooms() []RoomStat {
	r.mu.RLock()
	out := make([]RoomStat, 0, len(r.rooms))
	for name, members := range r.rooms {
		out = append(out, RoomStat{Name: name, Online: len(members)})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Total 返回所有房间的连接总数。
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.where)
}
