// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// SessionStatus enumerates the state of a client session.
type SessionStatus int32

const (
	SessionCreated SessionStatus = iota
	SessionConnected
	SessionDisconnecting
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionConnected:
		return "connected"
	case SessionDisconnecting:
		return "disconnecting"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServiceInfo exposes descriptive build- and runtime info for external tools.
type ServiceInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ServiceStats is a point-in-time snapshot of the server state.
type ServiceStats struct {
	Sessions  int `json:"sessions"`
	Users     int `json:"users"`
	Rooms     int `json:"rooms"`
	Nicknames int `json:"nicknames"`
}
