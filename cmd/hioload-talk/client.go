package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-talk/client"
	"github.com/momentics/hioload-talk/protocol"
)

type clientOptions struct {
	addr   string
	nick   string
	room   uint64
	create string
}

func clientCmd() *cobra.Command {
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interactive line chat client",
		Long: `Connects, logs in and joins a room. Every input line is sent as a chat
message. Commands: /rooms, /leave, /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.nick == "" {
				return errors.New("--nick is required")
			}
			c, err := client.Dial(cmd.Context(), client.Config{Addr: opts.addr, DialRetries: 2, WriteTimeout: 5 * time.Second})
			if err != nil {
				return err
			}
			defer c.Close()
			return runClient(c, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:7777", "server address")
	f.StringVar(&opts.nick, "nick", "", "nickname")
	f.Uint64Var(&opts.room, "room", 0, "room id to enter")
	f.StringVar(&opts.create, "create", "", "create a room with this name instead of entering one")
	return cmd
}

func runClient(c *client.Client, opts clientOptions, in io.Reader, out io.Writer) error {
	ver, err := c.VersionCheck()
	if err != nil {
		return err
	}
	if ver.ResultCode != protocol.VersionOK {
		return fmt.Errorf("server speaks protocol %s", ver.Version)
	}
	login, err := c.Login(opts.nick)
	if err != nil {
		return err
	}
	if login.ResultCode != protocol.LoginSuccess {
		return fmt.Errorf("login refused: %s", describe(login.ResultCode))
	}
	fmt.Fprintf(out, "logged in as %s (#%d)\n", opts.nick, login.UserID)

	switch {
	case opts.create != "":
		resp, err := c.CreateRoom(opts.create, 0)
		if err != nil {
			return err
		}
		if resp.ResultCode != protocol.CreateRoomSuccess {
			return fmt.Errorf("create room refused: %s", describe(resp.ResultCode))
		}
		fmt.Fprintf(out, "created room %d %q\n", resp.RoomID, resp.RoomName)
	case opts.room != 0:
		resp, err := c.EnterRoom(opts.room)
		if err != nil {
			return err
		}
		if resp.ResultCode != protocol.EnterRoomSuccess {
			return fmt.Errorf("enter room refused: %s", describe(resp.ResultCode))
		}
		fmt.Fprintf(out, "entered room %d %q with %d users\n", resp.RoomID, resp.RoomName, len(resp.Users))
	default:
		list, err := c.RoomList()
		if err != nil {
			return err
		}
		printRooms(out, list)
	}

	done := make(chan error, 1)
	go func() { done <- printPackets(c, out) }()

	lines := bufio.NewScanner(in)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/rooms":
			err = c.Send(protocol.CRoomList, struct{}{})
		case "/leave":
			err = c.Send(protocol.CLeaveRoom, struct{}{})
		default:
			err = c.Chat(line)
		}
		if err != nil {
			return err
		}
	}
	if err := lines.Err(); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	default:
		return nil
	}
}

func printPackets(c *client.Client, out io.Writer) error {
	for {
		p, err := c.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, client.ErrClosed) {
				return nil
			}
			return err
		}
		switch p.ID {
		case protocol.SChat:
			var m protocol.ChatResponse
			if protocol.Decode(p.Body, &m) == nil {
				if m.ResultCode != protocol.ChatOK {
					fmt.Fprintln(out, "! message not delivered")
					continue
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", time.Unix(m.Timestamp, 0).Format(time.TimeOnly), m.Nickname, m.Message)
			}
		case protocol.SOtherEnter:
			var m protocol.OtherEnter
			if protocol.Decode(p.Body, &m) == nil {
				fmt.Fprintf(out, "* %s joined\n", m.User.NickName)
			}
		case protocol.SOtherLeave:
			var m protocol.OtherLeave
			if protocol.Decode(p.Body, &m) == nil {
				fmt.Fprintf(out, "* %s left\n", m.User.NickName)
			}
		case protocol.SLeaveRoom:
			var m protocol.LeaveRoomResponse
			if protocol.Decode(p.Body, &m) == nil {
				fmt.Fprintf(out, "* left room %d: %s\n", m.RoomID, describe(m.ResultCode))
			}
		case protocol.SRoomList:
			var m protocol.RoomListResponse
			if protocol.Decode(p.Body, &m) == nil {
				printRooms(out, m)
			}
		default:
			fmt.Fprintf(out, "? %s %s\n", p.ID, p.Body)
		}
	}
}

func printRooms(out io.Writer, list protocol.RoomListResponse) {
	if len(list.Rooms) == 0 {
		fmt.Fprintln(out, "no open rooms")
		return
	}
	for _, r := range list.Rooms {
		fmt.Fprintf(out, "room %d %q %d/%d\n", r.RoomID, r.RoomName, r.Count, r.MaxUser)
	}
}

func describe(code protocol.ResultCode) string {
	switch code {
	case protocol.LoginExist:
		return "nickname taken"
	case protocol.LoginFail:
		return "invalid nickname or already logged in"
	case protocol.EnterRoomFail:
		return "room missing, full or already joined"
	case protocol.CreateRoomFail:
		return "invalid room name or capacity"
	case protocol.LeaveRoomFail:
		return "not in a room"
	case protocol.LeaveRoomSuccess:
		return "ok"
	}
	return fmt.Sprintf("code %d", code)
}
