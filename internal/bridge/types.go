// Package bridge contains the core of a call: the codec-transcoding audio
// bridge between a narrowband RTP media stream and a wideband streaming
// speech engine. One Session owns one call's worth of state; nothing in this
// package outlives its session.
package bridge

import (
	"context"
	"encoding/binary"
	"io"
)

// PacketInfo is one inbound media packet as delivered by the media layer.
type PacketInfo struct {
	PayloadType    uint8
	Marker         bool
	SyncSource     uint32
	TelephonyEvent bool
	Payload        []byte
}

// Media is the capability surface the session needs from the signaling
// layer's media transport. The session holds one by composition; packets
// arrive through Session.HandlePacket.
type Media interface {
	// SendFrame emits one encoded frame with the given RTP payload type.
	SendFrame(payloadType uint8, payload []byte) error
	Close() error
}

// Synthesizer is the speech engine's synthesis entry point. Speak streams
// 16 kHz PCM16LE into out (the bridge's push-stream contract) and returns
// when the job completes, fails or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string, out io.Writer) error
}

// Recognizer is the speech engine's continuous-recognition entry point. It
// pulls audio from src on its own schedule; a zero-length read with io.EOF
// means the stream is over.
type Recognizer interface {
	Start(ctx context.Context, src io.Reader) error
	Stop() error
}

// pcmToBytes serializes samples as PCM16LE, the engine-facing byte format.
func pcmToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// bytesToPCM deserializes PCM16LE bytes; a trailing odd byte is dropped.
func bytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
