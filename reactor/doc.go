// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the completion dispatcher: I/O objects register
// their handle with a Port, post operations into per-kind slots, and a fixed
// set of workers drain completions by calling Dispatch in a loop.
//
// Posted I/O parks in the Go runtime netpoller (epoll on Linux, IOCP on
// Windows); its result is queued on the Port and delivered to exactly one
// worker.
package reactor
