// Package room
// Author: momentics <momentics@gmail.com>
//
// Chat rooms and their registry.
//
// A Room stores non-owning Member records; sessions are resolved through a
// Directory at broadcast time, so membership never keeps a closed
// connection alive. The Manager is the only allocator of room ids and the
// only place rooms are created or removed. Lock order is Manager before
// Room, never the reverse.
package room
