// File: chat/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler routes decoded packets to the login, room and chat operations of
// a server.Service and answers with pooled send buffers.

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
	"github.com/momentics/hioload-talk/room"
	"github.com/momentics/hioload-talk/server"
)

// TracerName names the tracer taken from the global provider.
const TracerName = "hioload-talk"

// ErrMalformed marks a body that could not be decoded.
var ErrMalformed = errors.New("chat: malformed body")

type handleFunc func(h *Handler, w *reactor.Worker, s *server.Session, body []byte) error

var routes = [...]handleFunc{
	protocol.CVersionCheck: (*Handler).versionCheck,
	protocol.CLogin:        (*Handler).login,
	protocol.CEnterRoom:    (*Handler).enterRoom,
	protocol.CLeaveRoom:    (*Handler).leaveRoom,
	protocol.CChat:         (*Handler).chat,
	protocol.CCreateRoom:   (*Handler).createRoom,
	protocol.CRoomList:     (*Handler).roomList,
}

// Handler implements server.PacketHandler and room.Notices.
type Handler struct {
	svc    *server.Service
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option customizes a Handler.
type Option func(*Handler)

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithClock sets the timestamp source for chat messages and notices.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler builds a handler for svc without installing it.
func NewHandler(svc *server.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		log:    svc.Logger().With("component", "chat"),
		tracer: otel.Tracer(TracerName),
		now:    time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Install builds a handler and wires it as both the packet handler and the
// room notice builder of svc. Call it before svc.Start.
func Install(svc *server.Service, opts ...Option) *Handler {
	h := NewHandler(svc, opts...)
	svc.SetHandler(h)
	svc.Rooms().SetNotices(h)
	return h
}

// HandlePacket implements server.PacketHandler.
func (h *Handler) HandlePacket(w *reactor.Worker, s *server.Session, id protocol.MessageID, body []byte) bool {
	_, span := h.tracer.Start(context.Background(), "talk."+id.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("talk.session_id", s.ID().String()),
			attribute.Int("talk.message_id", int(id)),
			attribute.Int("talk.body_size", len(body)),
			attribute.Int("talk.worker", w.ID),
		))
	defer span.End()

	var fn handleFunc
	if int(id) < len(routes) {
		fn = routes[id]
	}
	if fn == nil {
		span.SetStatus(codes.Error, "unknown message id")
		return false
	}
	if u := s.User(); u != nil {
		span.SetAttributes(attribute.Int64("talk.user_id", int64(u.ID())))
	}

	err := fn(h, w, s, body)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrMalformed):
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed body")
		return false
	default:
		// No reply was sent.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Warn("reply failed", "id", id.String(), "session_id", s.ID().String(), "error", err)
		s.Disconnect(err)
		return true
	}
}

func decode(body []byte, v any) error {
	if err := protocol.Decode(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// reply sends v to s alone.
func (h *Handler) reply(w *reactor.Worker, s *server.Session, id protocol.MessageID, v any) error {
	buf, err := protocol.MakeSendBuffer(w.Chunks, id, v)
	if err != nil {
		return err
	}
	s.Send(buf)
	buf.Release()
	return nil
}

func (h *Handler) versionCheck(w *reactor.Worker, s *server.Session, body []byte) error {
	var req protocol.VersionCheckRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	code := protocol.VersionOK
	if req.Version != protocol.Version {
		code = protocol.VersionMismatch
		s.Logger().Info("client version mismatch", "client_version", req.Version)
	}
	return h.reply(w, s, protocol.SVersionCheck, protocol.VersionCheckResponse{ResultCode: code, Version: protocol.Version})
}

func (h *Handler) login(w *reactor.Worker, s *server.Session, body []byte) error {
	var req protocol.LoginRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	resp := protocol.LoginResponse{ResultCode: protocol.LoginSuccess}
	u, err := h.svc.Login(s, req.Nickname)
	switch {
	case err == nil:
		resp.UserID = u.ID()
	case errors.Is(err, server.ErrNicknameTaken):
		resp.ResultCode = protocol.LoginExist
	default:
		s.Logger().Debug("login rejected", "nickname", req.Nickname, "error", err)
		resp.ResultCode = protocol.LoginFail
	}
	return h.reply(w, s, protocol.SLogin, resp)
}

func (h *Handler) createRoom(w *reactor.Worker, s *server.Session, body []byte) error {
	var req protocol.CreateRoomRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	resp := protocol.CreateRoomResponse{ResultCode: protocol.CreateRoomFail, RoomName: req.RoomName}
	u := s.User()
	if u == nil {
		return h.reply(w, s, protocol.SCreateRoom, resp)
	}
	r, err := h.svc.Rooms().CreateRoom(u, req.RoomName, req.MaxUser)
	if err != nil {
		s.Logger().Debug("create room rejected", "name", req.RoomName, "error", err)
		return h.reply(w, s, protocol.SCreateRoom, resp)
	}
	resp.ResultCode = protocol.CreateRoomSuccess
	resp.RoomID = r.ID()
	resp.RoomName = r.Name()
	resp.MaxUser = r.MaxUsers()
	return h.reply(w, s, protocol.SCreateRoom, resp)
}

func (h *Handler) enterRoom(w *reactor.Worker, s *server.Session, body []byte) error {
	var req protocol.EnterRoomRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	resp := protocol.EnterRoomResponse{ResultCode: protocol.EnterRoomFail, RoomID: req.RoomID, Users: []protocol.UserInfo{}}
	u := s.User()
	if u == nil {
		return h.reply(w, s, protocol.SEnterRoom, resp)
	}
	r, err := h.svc.Rooms().EnterRoom(w.Chunks, u, req.RoomID)
	if err != nil {
		s.Logger().Debug("enter room rejected", "room_id", req.RoomID, "error", err)
		return h.reply(w, s, protocol.SEnterRoom, resp)
	}
	resp.ResultCode = protocol.EnterRoomSuccess
	resp.RoomName = r.Name()
	for _, m := range r.Members() {
		resp.Users = append(resp.Users, protocol.UserInfo{UserID: m.UserID, Nickname: m.Nickname})
	}
	return h.reply(w, s, protocol.SEnterRoom, resp)
}

func (h *Handler) leaveRoom(w *reactor.Worker, s *server.Session, _ []byte) error {
	resp := protocol.LeaveRoomResponse{ResultCode: protocol.LeaveRoomFail}
	u := s.User()
	if u == nil || u.RoomID() == 0 {
		return h.reply(w, s, protocol.SLeaveRoom, resp)
	}
	id, err := h.svc.Rooms().LeaveRoom(w.Chunks, u)
	if err != nil {
		return err
	}
	resp.ResultCode = protocol.LeaveRoomSuccess
	resp.RoomID = id
	return h.reply(w, s, protocol.SLeaveRoom, resp)
}

func (h *Handler) chat(w *reactor.Worker, s *server.Session, body []byte) error {
	var req protocol.ChatRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	fail := protocol.ChatResponse{ResultCode: protocol.ChatFail}
	u := s.User()
	if u == nil || u.RoomID() == 0 || req.Message == "" {
		return h.reply(w, s, protocol.SChat, fail)
	}
	r, ok := h.svc.Rooms().Room(u.RoomID())
	if !ok {
		return h.reply(w, s, protocol.SChat, fail)
	}
	buf, err := protocol.MakeSendBuffer(w.Chunks, protocol.SChat, protocol.ChatResponse{
		ResultCode: protocol.ChatOK,
		UserID:     u.ID(),
		Nickname:   u.Nickname(),
		Message:    req.Message,
		Timestamp:  h.now().Unix(),
	})
	if err != nil {
		return err
	}
	r.Broadcast(buf, h.svc)
	buf.Release()
	return nil
}

func (h *Handler) roomList(w *reactor.Worker, s *server.Session, _ []byte) error {
	resp := protocol.RoomListResponse{Rooms: []protocol.RoomInfo{}}
	for _, r := range h.svc.Rooms().Rooms() {
		resp.Rooms = append(resp.Rooms, roomInfo(r))
	}
	return h.reply(w, s, protocol.SRoomList, resp)
}

func roomInfo(r *room.Room) protocol.RoomInfo {
	return protocol.RoomInfo{RoomID: r.ID(), RoomName: r.Name(), Count: r.Count(), MaxUser: r.MaxUsers()}
}
