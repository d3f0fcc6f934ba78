// File: client/client.go
// Package client is a blocking chat client over one TCP connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client frames requests with the protocol package, keeps packets it
// was not waiting for in a backlog, and retries the initial dial when
// configured to.

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-talk/protocol"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("client: closed")

// Config holds the client parameters.
type Config struct {
	Addr         string        // host:port of the server
	ReadTimeout  time.Duration // per-packet read deadline (0 = none)
	WriteTimeout time.Duration // per-write deadline (0 = none)
	DialRetries  int           // extra dial attempts after the first
	Logger       *slog.Logger
}

// Packet is one received frame.
type Packet struct {
	ID   protocol.MessageID
	Body []byte
}

// Client is safe for concurrent writers. Reads must come from one goroutine.
type Client struct {
	cfg  Config
	conn net.Conn
	rd   *bufio.Reader
	log  *slog.Logger

	wmu     sync.Mutex
	backlog []Packet
	closed  atomic.Bool
}

// Dial connects to cfg.Addr.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var d net.Dialer
	var lastErr error
	for attempt := 0; attempt <= cfg.DialRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
		if err != nil {
			lastErr = err
			cfg.Logger.Debug("dial failed", "addr", cfg.Addr, "attempt", attempt+1, "error", err)
			continue
		}
		return &Client{
			cfg:  cfg,
			conn: conn,
			rd:   bufio.NewReaderSize(conn, 0x4000),
			log:  cfg.Logger.With("component", "client", "addr", cfg.Addr),
		}, nil
	}
	return nil, fmt.Errorf("client: dial %s: %w", cfg.Addr, lastErr)
}

// LocalAddr returns the client side of the connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Send encodes v as the body of a frame with id.
func (c *Client) Send(id protocol.MessageID, v any) error {
	frame, err := protocol.Encode(id, v)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// SendRaw frames body as is.
func (c *Client) SendRaw(id protocol.MessageID, body []byte) error {
	frame, err := protocol.AppendFrame(nil, id, body)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Client) write(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	_, err := c.conn.Write(frame)
	return err
}

// ReadPacket returns the next packet, draining the backlog first.
func (c *Client) ReadPacket() (Packet, error) {
	if len(c.backlog) > 0 {
		p := c.backlog[0]
		c.backlog = c.backlog[1:]
		return p, nil
	}
	return c.readFrame()
}

func (c *Client) readFrame() (Packet, error) {
	if c.closed.Load() {
		return Packet{}, ErrClosed
	}
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	var hdr [protocol.HeaderSize]byte
	if _, err := io.ReadFull(c.rd, hdr[:]); err != nil {
		return Packet{}, err
	}
	h, _ := protocol.ParseHeader(hdr[:])
	if h.Size < protocol.HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d", protocol.ErrShortFrame, h.Size)
	}
	body := make([]byte, int(h.Size)-protocol.HeaderSize)
	if _, err := io.ReadFull(c.rd, body); err != nil {
		return Packet{}, err
	}
	return Packet{ID: h.ID, Body: body}, nil
}

// Await reads until a packet with id arrives and decodes it into v. Other
// packets are kept for ReadPacket in arrival order.
func (c *Client) Await(id protocol.MessageID, v any) error {
	for i, p := range c.backlog {
		if p.ID == id {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return protocol.Decode(p.Body, v)
		}
	}
	for {
		p, err := c.readFrame()
		if err != nil {
			return err
		}
		if p.ID == id {
			return protocol.Decode(p.Body, v)
		}
		c.backlog = append(c.backlog, p)
	}
}

// Close shuts the connection. It is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
