package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BioHazard786/slotmesh/internal/config"
	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/room"
	"github.com/BioHazard786/slotmesh/internal/rtc"
	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/BioHazard786/slotmesh/internal/ui"
	"github.com/mattn/go-isatty"
)

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, errs.New("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// Session wires one room coordinator to the relay, WebRTC and the board.
type Session struct {
	cfg    *config.Config
	client *signaling.Client
	coord  *room.Coordinator
	board  *ui.Board
}

func NewSession(cfg *config.Config) (*Session, error) {
	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return nil, errs.New("create session", err)
	}
	factory, err := rtc.NewFactory(cfg)
	if err != nil {
		return nil, errs.New("create session", err)
	}
	source := &media.TrackSource{
		VideoFile: cfg.VideoFile,
		AudioFile: cfg.AudioFile,
		NoVideo:   cfg.NoVideo,
	}

	s := &Session{
		cfg:    cfg,
		client: signaling.NewClient(cfg.RelayURL, cfg.Room, codec),
	}

	var listener room.Listener = printListener()
	if isatty.IsTerminal(os.Stdout.Fd()) {
		s.board = ui.NewBoard(
			ui.RoomInfo{Room: cfg.Room, Relay: cfg.RelayURL},
			func(ctx context.Context) (room.Snapshot, error) { return s.coord.Snapshot(ctx) },
			nil,
		)
		listener = s.board
	}
	s.coord = room.New(room.OptionsFrom(cfg), s.client, factory, source, listener)
	return s, nil
}

// Run drives the room until ctx ends or the user quits the board. When
// slot is non-zero the local peer joins it once the relay is reachable.
func (s *Session) Run(ctx context.Context, slot int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.client.Close()

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.coord.Run(ctx)
		if s.board != nil {
			s.board.Stop()
		}
	}()

	joinErr := make(chan error, 1)
	if slot > 0 {
		go func() {
			err := s.coord.Join(ctx, slot)
			if err != nil && !errors.Is(err, context.Canceled) {
				joinErr <- err
				cancel()
			}
		}()
	}

	if s.board != nil {
		if err := s.board.Run(); err != nil {
			ui.PrintErrorf("board: %v", err)
		}
		cancel()
	} else {
		<-ctx.Done()
	}

	err := <-runErr
	select {
	case jerr := <-joinErr:
		return jerr
	default:
	}
	return err
}

// printListener reports room changes as plain lines when stdout is not a
// terminal.
func printListener() room.ListenerFuncs {
	return room.ListenerFuncs{
		OnSlotOccupied: func(slot int, peer string, local bool) {
			if local {
				ui.PrintSuccessf("joined slot %d", slot)
				return
			}
			ui.PrintInfof("%s took slot %d", peer, slot)
		},
		OnSlotVacated: func(slot int, peer string) {
			ui.PrintInfof("%s left slot %d", peer, slot)
		},
		OnStreamAttached: func(slot int, stream *media.RemoteStream) {
			ui.PrintInfof("slot %d: receiving %d track(s) from %s", slot, len(stream.Tracks()), stream.PeerID)
		},
		OnConnectionChanged: func(info mesh.Info) {
			if info.State == mesh.StateConnected {
				ui.PrintSuccessf("connected to %s", info.PeerID)
			}
		},
	}
}
