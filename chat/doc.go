// Package chat implements the talk protocol on top of server and room:
// version check, login, room creation, entry, exit, listing and chat
// broadcast. Every packet is traced with one OpenTelemetry span.
package chat
