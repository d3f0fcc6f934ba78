// File: client/requests.go
// Author: momentics <momentics@gmail.com>

package client

import "github.com/momentics/hioload-talk/protocol"

// VersionCheck announces the protocol version.
func (c *Client) VersionCheck() (protocol.VersionCheckResponse, error) {
	var resp protocol.VersionCheckResponse
	if err := c.Send(protocol.CVersionCheck, protocol.VersionCheckRequest{Version: protocol.Version}); err != nil {
		return resp, err
	}
	return resp, c.Await(protocol.SVersionCheck, &resp)
}

// Login claims nickname.
func (c *Client) Login(nickname string) (protocol.LoginResponse, error) {
	var resp protocol.LoginResponse
	if err := c.Send(protocol.CLogin, protocol.LoginRequest{Nickname: nickname}); err != nil {
		return resp, err
	}
	return resp, c.Await(protocol.SLogin, &resp)
}

// CreateRoom opens a room and enters it. maxUsers 0 asks for the server default.
func (c *Client) CreateRoom(name string, maxUsers int) (protocol.CreateRoomResponse, error) {
	var resp protocol.CreateRoomResponse
	if err := c.Send(protocol.CCreateRoom, protocol.CreateRoomRequest{RoomName: name, MaxUser: maxUsers}); err != nil {
		return resp, err
	}
	return resp, c.Await(protocol.SCreateRoom, &resp)
}

// EnterRoom joins room id.
func (c *Client) EnterRoom(id uint64) (protocol.EnterRoomResponse, error) {
	var resp protocol.EnterRoomResponse
	if err := c.Send(protocol.CEnterRoom, protocol.EnterRoomRequest{RoomID: id}); err != nil {
		return resp, err
	}
	return resp, c.Await(protocol.SEnterRoom, &resp)
}

// LeaveRoom leaves the current room.
func (c *Client) LeaveRoom() (protocol.LeaveRoomResponse, error) {
	var resp protocol.LeaveRoomResponse
	if err := c.Send(protocol.CLeaveRoom, struct{}{}); err != nil {
		return resp, err
	}
	return resp, c.Await(protocol.SLeaveRoom, &resp)
}

// RoomList fetches the open rooms.
func (c *Client) RoomList() (protocol.RoomListResponse, error) {
	var resp protocol.RoomListResponse
	if err := c.Send(protocol.CRoomList, struct{}{}); err != nil {
		return resp, err
	}
	return resp, c.Await(protocol.SRoomList, &resp)
}

// Chat sends message to the current room. The echo arrives as S_CHAT
// together with the other members' messages.
func (c *Client) Chat(message string) error {
	return c.Send(protocol.CChat, protocol.ChatRequest{Message: message})
}
