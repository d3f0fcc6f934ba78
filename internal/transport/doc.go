// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket plumbing under the completion dispatcher: listening with address
// reuse, option inheritance for accepted connections, raw handle extraction,
// and classification of socket errors into connection-fatal or unexpected.
package transport
