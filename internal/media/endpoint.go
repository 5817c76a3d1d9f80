// Package media is the narrowband side of the bridge: an RTP-over-UDP
// endpoint that feeds inbound packets to a session and paces outbound G.722
// frames back to the caller.
package media

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"

	"github.com/pion/rtp"

	"github.com/sipsorcery/sipspeech/internal/bridge"
)

// rtpTimestampStride is the per-frame timestamp increment. G.722 keeps the
// historical 8000 Hz RTP reference clock (RFC 3551 4.5.2), so a 20 ms frame
// advances the clock by 160 regardless of the 16 kHz sampling rate.
const rtpTimestampStride = 160

const maxDatagram = 1500

// Endpoint owns one UDP socket for one call leg. The remote address is
// latched from the first inbound packet (symmetric RTP), so SendFrame fails
// until the caller has sent at least one packet.
type Endpoint struct {
	conn   *net.UDPConn
	logger *slog.Logger

	eventPayloadType uint8
	onPacket         func(bridge.PacketInfo)

	mu        sync.Mutex
	remote    *net.UDPAddr
	ssrc      uint32
	seq       uint16
	timestamp uint32
	sentFirst bool
	closed    bool
}

// NewEndpoint binds a UDP socket on listenAddr (e.g. "0.0.0.0:0" for an
// ephemeral port). Inbound packets are handed to onPacket from the receive
// goroutine once Serve is running.
func NewEndpoint(listenAddr string, eventPayloadType uint8, onPacket func(bridge.PacketInfo), logger *slog.Logger) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("media: resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("media: listen %q: %w", listenAddr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		conn:             conn,
		logger:           logger.With(slog.String("rtp_addr", conn.LocalAddr().String())),
		eventPayloadType: eventPayloadType,
		onPacket:         onPacket,
		ssrc:             rand.Uint32(),
		seq:              uint16(rand.Uint32()),
	}, nil
}

// LocalAddr is the bound RTP address to hand to the signaling layer.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// SetRemote pins the peer address up front instead of latching it from
// traffic, for legs where signaling already negotiated the far end.
func (e *Endpoint) SetRemote(addr *net.UDPAddr) {
	e.mu.Lock()
	e.remote = addr
	e.mu.Unlock()
}

// Serve reads datagrams until the socket closes. Malformed packets are
// counted and skipped; they never stop the loop. Run it on its own goroutine.
func (e *Endpoint) Serve() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if !closed {
				e.logger.Warn("rtp read", slog.String("error", err.Error()))
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			e.logger.Debug("dropping malformed rtp packet", slog.String("error", err.Error()))
			continue
		}

		e.mu.Lock()
		if e.remote == nil {
			e.remote = from
			e.logger.Info("remote media latched", slog.String("remote", from.String()))
		}
		e.mu.Unlock()

		if e.onPacket != nil {
			e.onPacket(bridge.PacketInfo{
				PayloadType:    pkt.PayloadType,
				Marker:         pkt.Marker,
				SyncSource:     pkt.SSRC,
				TelephonyEvent: pkt.PayloadType == e.eventPayloadType,
				Payload:        append([]byte(nil), pkt.Payload...),
			})
		}
	}
}

// SendFrame marshals one outbound packet. Sequence numbers are monotonic,
// the timestamp advances one stride per frame and the marker bit is set only
// on the first packet of the stream.
func (e *Endpoint) SendFrame(payloadType uint8, payload []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("media: endpoint closed")
	}
	remote := e.remote
	if remote == nil {
		e.mu.Unlock()
		return fmt.Errorf("media: remote address not known yet")
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         !e.sentFirst,
			PayloadType:    payloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: payload,
	}
	e.seq++
	e.timestamp += rtpTimestampStride
	e.sentFirst = true
	e.mu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("media: marshal rtp: %w", err)
	}
	if _, err := e.conn.WriteToUDP(raw, remote); err != nil {
		return fmt.Errorf("media: send: %w", err)
	}
	return nil
}

// Close shuts the socket down, which also unblocks Serve.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}
