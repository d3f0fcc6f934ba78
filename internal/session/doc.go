// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded registry of live connections keyed by session id.
package session
