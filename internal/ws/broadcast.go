package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"encchat/internal/metrics"
)

// Broadcaster 把一条文本投递给房间当前的全部成员。
type Broadcaster struct {
	registry *Registry
}

func NewBroadcaster(r *Registry) *Broadcaster { return &Broadcaster{registry: r} }

// Broadcast 对成员快照并发发送，等待本轮全部完成后再统一剔除失败的连接，
// 因此一次失败不会影响其他成员在本轮收到消息。被剔除的连接在返回前已移出房间，
// 关闭在后台完成。返回被剔除的连接数。
func (b *Broadcaster) Broadcast(room, text string) int {
	members := b.registry.Members(room)
	if len(members) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Peer
	)
	for _, p := range members {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if err := p.Send(text); err != nil {
				mu.Lock()
				failed = append(failed, p)
				mu.Unlock()
				log.Debug().Err(err).Str("room", room).Msg("broadcast send failed")
			}
		}(p)
	}
	wg.Wait()

	for _, p := range failed {
		b.registry.Leave(room, p)
		metrics.BroadcastFailuresTotal.Inc()
		// 慢连接的关闭帧可能要等写锁，放到后台，不拖慢本次广播的发送者。
		// 关闭后该连接的会话会走正常的离开流程。
		go func(p Peer) { _ = p.Close(ClosePolicy, "send failed") }(p)
	}
	if len(failed) > 0 {
		log.Warn().Str("room", room).Int("pruned", len(failed)).Msg("pruned unreachable peers")
	}
	return len(failed)
}
