// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker threads for the completion dispatcher. Each worker locks its
// goroutine to an OS thread, optionally pins that thread to one CPU, and
// loops on Port.Dispatch until the port closes or the context ends.
package concurrency
