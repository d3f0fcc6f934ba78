// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer layer for hioload-talk sessions.
//
// RecvBuffer is the per-connection inbound region with read/write cursors.
// Outbound data is carved from large SendBufferChunk arenas: each dispatcher
// worker keeps one current chunk in its ChunkCache, and retired chunks are
// returned to the shared ChunkPool once their last SendBuffer is released.
// Chunks are reused, never freed.
package pool
