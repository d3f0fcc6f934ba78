// File: chat/notices.go
// Author: momentics <momentics@gmail.com>

package chat

import (
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/room"
)

// JoinNotice implements room.Notices.
func (h *Handler) JoinNotice(cache *pool.ChunkCache, m room.Member) (*pool.SendBuffer, error) {
	return protocol.MakeSendBuffer(cache, protocol.SOtherEnter, protocol.OtherEnter{
		User:      protocol.PeerInfo{UserID: m.UserID, NickName: m.Nickname},
		Timestamp: h.now().Unix(),
	})
}

// LeaveNotice implements room.Notices.
func (h *Handler) LeaveNotice(cache *pool.ChunkCache, m room.Member) (*pool.SendBuffer, error) {
	return protocol.MakeSendBuffer(cache, protocol.SOtherLeave, protocol.OtherLeave{
		User:      protocol.PeerInfo{UserID: m.UserID, NickName: m.Nickname},
		Timestamp: h.now().Unix(),
	})
}
