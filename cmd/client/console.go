package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/voicemesh/internal/adapters/playback"
	"github.com/dkeye/voicemesh/internal/app/mesh"
	"github.com/dkeye/voicemesh/internal/domain"
)

var errQuit = errors.New("quit")

type controller interface {
	Join(ctx context.Context, room domain.RoomID) error
	Leave(ctx context.Context) error
	SetMuted(muted bool) bool
	ToggleMute() bool
	Muted() bool
	Peers(ctx context.Context) ([]mesh.PeerInfo, error)
	Roster(ctx context.Context) ([]domain.UserID, error)
}

type speaker interface {
	SetMuted(remote domain.UserID, muted bool) bool
	Stats() []playback.Stats
}

// console reads one command per line and drives the coordinator.
type console struct {
	ctl    controller
	player speaker
	out    io.Writer
}

const help = `commands:
  join <room>      join a voice room
  leave            leave the current room
  mute | unmute    silence or restore the microphone
  toggle           flip the microphone
  status           show the microphone state
  peers            list peer sessions and their state
  roster           list room members
  silence <user>   stop playing a member's audio (unsilence to restore)
  streams          inbound audio streams
  quit`

// Run returns errQuit on "quit", nil at end of input and ctx.Err() when ctx
// is done first.
func (c *console) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintln(c.out, "error:", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "join":
		room, err := domain.ParseRoomID(arg)
		if err != nil {
			return err
		}
		if err := c.ctl.Join(ctx, room); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "joined %s\n", room)
	case "leave":
		if err := c.ctl.Leave(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "left")
	case "mute":
		c.printMuted(c.ctl.SetMuted(true))
	case "unmute":
		c.printMuted(c.ctl.SetMuted(false))
	case "toggle":
		c.printMuted(c.ctl.ToggleMute())
	case "status":
		fmt.Fprint(c.out, "mic ")
		c.printMuted(c.ctl.Muted())
	case "peers":
		peers, err := c.ctl.Peers(ctx)
		if err != nil {
			return err
		}
		for _, p := range peers {
			fmt.Fprintf(c.out, "%s\t%s\n", p.Remote, p.State)
		}
	case "roster":
		roster, err := c.ctl.Roster(ctx)
		if err != nil {
			return err
		}
		for _, id := range roster {
			fmt.Fprintln(c.out, id)
		}
	case "silence", "unsilence":
		id, err := domain.ParseUserID(arg)
		if err != nil {
			return err
		}
		if !c.player.SetMuted(id, fields[0] == "silence") {
			return fmt.Errorf("no audio from %s", id)
		}
		fmt.Fprintf(c.out, "%s %sd\n", id, fields[0])
	case "streams":
		for _, st := range c.player.Stats() {
			fmt.Fprintf(c.out, "%s\t%s\t%d packets\t%d bytes\n", st.Remote, st.State, st.Packets, st.Bytes)
		}
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(c.out, help)
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

func (c *console) printMuted(muted bool) {
	if muted {
		fmt.Fprintln(c.out, "muted")
		return
	}
	fmt.Fprintln(c.out, "live")
}
