// File: protocol/messages.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message ids, result codes and JSON bodies.

package protocol

// MessageID identifies a packet type.
type MessageID uint16

const (
	CVersionCheck MessageID = iota
	SVersionCheck
	CLogin
	SLogin
	CEnterRoom
	SEnterRoom
	CLeaveRoom
	SLeaveRoom
	CChat
	SChat
	SOtherEnter
	SOtherLeave
	CCreateRoom
	SCreateRoom
	CRoomList
	SRoomList
)

var messageNames = [...]string{
	CVersionCheck: "C_VERSION_CHECK",
	SVersionCheck: "S_VERSION_CHECK",
	CLogin:        "C_LOGIN",
	SLogin:        "S_LOGIN",
	CEnterRoom:    "C_ENTER_ROOM",
	SEnterRoom:    "S_ENTER_ROOM",
	CLeaveRoom:    "C_LEAVE_ROOM",
	SLeaveRoom:    "S_LEAVE_ROOM",
	CChat:         "C_CHAT",
	SChat:         "S_CHAT",
	SOtherEnter:   "S_OTHER_ENTER",
	SOtherLeave:   "S_OTHER_LEAVE",
	CCreateRoom:   "C_CREATE_ROOM",
	SCreateRoom:   "S_CREATE_ROOM",
	CRoomList:     "C_ROOM_LIST",
	SRoomList:     "S_ROOM_LIST",
}

func (id MessageID) String() string {
	if int(id) < len(messageNames) {
		return messageNames[id]
	}
	return "UNKNOWN"
}

// ResultCode reports the outcome of a request.
type ResultCode uint16

const (
	LoginExist ResultCode = 2000 + iota
	LoginSuccess
	EnterRoomFail
	EnterRoomSuccess
	ChatFail
	ChatOK
	CreateRoomFail
	CreateRoomSuccess
	LeaveRoomFail
	LeaveRoomSuccess
	LoginFail
	VersionOK
	VersionMismatch
)

// Version is announced in S_VERSION_CHECK.
const Version = "1.0"

type VersionCheckRequest struct {
	Version string `json:"version"`
}

type VersionCheckResponse struct {
	ResultCode ResultCode `json:"resultCode"`
	Version    string     `json:"version"`
}

type LoginRequest struct {
	Nickname string `json:"nickname"`
}

type LoginResponse struct {
	ResultCode ResultCode `json:"resultCode"`
	UserID     uint64     `json:"userId"`
}

type CreateRoomRequest struct {
	RoomName string `json:"roomName"`
	MaxUser  int    `json:"maxUser,omitempty"`
}

type CreateRoomResponse struct {
	ResultCode ResultCode `json:"resultCode"`
	RoomID     uint64     `json:"roomId"`
	RoomName   string     `json:"roomName"`
	MaxUser    int        `json:"maxUser"`
}

// EnterRoomRequest carries the client's user id for compatibility; the
// server uses the session's own user.
type EnterRoomRequest struct {
	RoomID uint64 `json:"roomId"`
	UserID uint64 `json:"userId"`
}

type UserInfo struct {
	UserID   uint64 `json:"userId"`
	Nickname string `json:"nickname"`
}

type EnterRoomResponse struct {
	ResultCode ResultCode `json:"resultCode"`
	RoomID     uint64     `json:"roomId"`
	RoomName   string     `json:"roomName"`
	Users      []UserInfo `json:"users"`
}

type LeaveRoomResponse struct {
	ResultCode ResultCode `json:"resultCode"`
	RoomID     uint64     `json:"roomId"`
}

// ChatRequest identity fields are ignored by the server.
type ChatRequest struct {
	UserID   uint64 `json:"userId"`
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

type ChatResponse struct {
	ResultCode    ResultCode `json:"resultCode"`
	ServerMessage bool       `json:"serverMessage"`
	UserID        uint64     `json:"userId"`
	Nickname      string     `json:"nickname"`
	Message       string     `json:"message"`
	Timestamp     int64      `json:"timestamp"`
}

// PeerInfo is spelled nickName on the wire.
type PeerInfo struct {
	UserID   uint64 `json:"userId"`
	NickName string `json:"nickName"`
}

type OtherEnter struct {
	User      PeerInfo `json:"user"`
	Timestamp int64    `json:"timestamp"`
}

type OtherLeave struct {
	User      PeerInfo `json:"user"`
	Timestamp int64    `json:"timestamp"`
}

type RoomInfo struct {
	RoomID   uint64 `json:"roomId"`
	RoomName string `json:"roomName"`
	Count    int    `json:"count"`
	MaxUser  int    `json:"maxUser"`
}

type RoomListResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}
