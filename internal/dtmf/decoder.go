// Package dtmf decodes RFC 4733 telephony events carried in-band on the RTP
// stream and collapses retransmitted event packets into a single tone-start
// notification per physical keypress.
package dtmf

import "log/slog"

// Event is one parsed telephony-event packet.
type Event struct {
	Tone       uint8 // 0-15: digits 0-9, *, #, A-D
	EndOfEvent bool
	Marker     bool
	SyncSource uint32
	Volume     uint8
	Duration   uint16
}

// ParsePayload decodes the 4-byte RFC 4733 telephone-event payload.
func ParsePayload(payload []byte, marker bool, ssrc uint32) (Event, bool) {
	if len(payload) < 4 {
		return Event{}, false
	}
	return Event{
		Tone:       payload[0],
		EndOfEvent: payload[1]&0x80 != 0,
		Marker:     marker,
		SyncSource: ssrc,
		Volume:     payload[1] & 0x3f,
		Duration:   uint16(payload[2])<<8 | uint16(payload[3]),
	}, true
}

// Decoder tracks the sync source of the tone currently in progress so that a
// keypress spread over several (possibly retransmitted) packets fires its
// callback exactly once.
type Decoder struct {
	onTone func(tone uint8)
	logger *slog.Logger

	open     bool
	openSSRC uint32
}

// NewDecoder returns a decoder that invokes onTone once per keypress.
func NewDecoder(logger *slog.Logger, onTone func(tone uint8)) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{onTone: onTone, logger: logger}
}

// Process consumes one telephony-event packet. Decoder state is only touched
// from the packet-receive path, so no locking is needed.
func (d *Decoder) Process(ev Event) {
	if d.open {
		if ev.EndOfEvent && ev.SyncSource == d.openSSRC {
			d.open = false
			d.logger.Debug("tone ended", slog.Int("tone", int(ev.Tone)), slog.Uint64("ssrc", uint64(ev.SyncSource)))
		}
		// retransmissions and continuation packets for the open tone are dropped
		return
	}

	switch {
	case ev.EndOfEvent && ev.Marker:
		// complete single-packet event
		d.fire(ev)
	case !ev.EndOfEvent:
		// start of a multi-packet event; remember it so repeats don't re-fire
		d.open = true
		d.openSSRC = ev.SyncSource
		d.fire(ev)
	default:
		// trailing end-of-event for a tone we never saw open (e.g. the start
		// packets were lost); nothing to report
	}
}

func (d *Decoder) fire(ev Event) {
	d.logger.Debug("tone detected",
		slog.Int("tone", int(ev.Tone)),
		slog.Uint64("ssrc", uint64(ev.SyncSource)),
		slog.Bool("end", ev.EndOfEvent),
	)
	if d.onTone != nil {
		d.onTone(ev.Tone)
	}
}
