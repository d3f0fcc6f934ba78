// Package api
// Author: momentics <momentics@gmail.com>
//
// Shared contracts of hioload-talk: the error taxonomy used by every layer
// and the session lifecycle states reported to the control plane.
package api
