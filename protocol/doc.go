// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire format of the chat protocol.
//
// Every message is framed as
//
//	[size:uint16 LE][id:uint16 LE][body]
//
// where size counts the 4-byte header. Bodies are UTF-8 JSON objects.
package protocol
