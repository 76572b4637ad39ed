package room

import (
	"time"

	"github.com/BioHazard786/slotmesh/internal/config"
)

// Options tunes the room protocol.
type Options struct {
	Capacity int

	// SettleDelay separates the join-slot reply to a state request from the
	// offer that follows, so the requester records the occupant first.
	SettleDelay time.Duration
	// AnnounceDelay is the wait between join-slot and announce-join.
	AnnounceDelay time.Duration
	// StateRequestDelay is the wait after a (re)connect before asking the
	// room for its state.
	StateRequestDelay time.Duration

	// ResumeViewing keeps watching the room after a leave.
	ResumeViewing bool
}

func DefaultOptions() Options {
	return Options{
		Capacity:          config.DefaultCapacity,
		SettleDelay:       config.DefaultSettleDelay,
		AnnounceDelay:     config.DefaultAnnounceDelay,
		StateRequestDelay: config.DefaultStateRequestDelay,
		ResumeViewing:     true,
	}
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Capacity:          cfg.Capacity,
		SettleDelay:       cfg.SettleDelay,
		AnnounceDelay:     cfg.AnnounceDelay,
		StateRequestDelay: cfg.StateRequestDelay,
		ResumeViewing:     cfg.ResumeViewing,
	}
}
