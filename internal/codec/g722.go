// Package codec implements the G.722 sub-band ADPCM transcoder used on the
// RTP leg of a bridge session. The codec is history-dependent: every call
// updates predictor state, so each direction of a call owns its own instance.
package codec

const (
	// SampleRate is the wideband PCM rate the speech engine works in.
	SampleRate = 16000
	// FramePeriodMs is the fixed pacing interval for outbound media.
	FramePeriodMs = 20
	// FrameSamples is one frame period of 16-bit samples (16 kHz * 20 ms).
	FrameSamples = SampleRate * FramePeriodMs / 1000
	// FrameBytes is the encoded size of one frame: G.722 at 64 kbit/s packs
	// two samples per byte.
	FrameBytes = FrameSamples / 2
)

// Quantizer and scale-factor tables from the ITU-T G.722 reference algorithm.
var (
	q6 = [32]int{
		0, 35, 72, 110, 150, 190, 233, 276, 323, 370, 422, 473, 530, 587, 650, 714,
		786, 858, 940, 1023, 1121, 1219, 1339, 1458, 1612, 1765, 1980, 2195, 2557, 2919, 0, 0,
	}
	iln = [32]int{
		0, 63, 62, 31, 30, 29, 28, 27, 26, 25, 24, 23, 22, 21, 20, 19,
		18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 0,
	}
	ilp = [32]int{
		0, 61, 60, 59, 58, 57, 56, 55, 54, 53, 52, 51, 50, 49, 48, 47,
		46, 45, 44, 43, 42, 41, 40, 39, 38, 37, 36, 35, 34, 33, 32, 0,
	}
	wl   = [8]int{-60, -30, 58, 172, 334, 538, 1198, 3042}
	rl42 = [16]int{0, 7, 6, 5, 4, 3, 2, 1, 7, 6, 5, 4, 3, 2, 1, 0}
	ilb  = [32]int{
		2048, 2093, 2139, 2186, 2233, 2282, 2332, 2383,
		2435, 2489, 2543, 2599, 2656, 2714, 2774, 2834,
		2896, 2960, 3025, 3091, 3158, 3228, 3298, 3371,
		3444, 3520, 3597, 3676, 3756, 3838, 3922, 4008,
	}
	qm4 = [16]int{
		0, -20456, -12896, -8968, -6288, -4240, -2584, -1200,
		20456, 12896, 8968, 6288, 4240, 2584, 1200, 0,
	}
	qm6 = [64]int{
		-136, -136, -136, -136, -24808, -21904, -19008, -16704,
		-14984, -13512, -12280, -11192, -10232, -9360, -8576, -7856,
		-7192, -6576, -6000, -5456, -4944, -4464, -4008, -3581,
		-3172, -2778, -2400, -2032, -1688, -1360, -1040, -728,
		24808, 21904, 19008, 16704, 14984, 13512, 12280, 11192,
		10232, 9360, 8576, 7856, 7192, 6576, 6000, 5456,
		4944, 4464, 4008, 3581, 3172, 2778, 2400, 2032,
		1688, 1360, 1040, 728, 432, 136, -432, -136,
	}
	qm2       = [4]int{-7408, -1616, 7408, 1616}
	ihn       = [3]int{0, 1, 0}
	ihp       = [3]int{0, 3, 2}
	wh        = [3]int{0, -214, 798}
	rh2       = [4]int{2, 1, 2, 1}
	qmfCoeffs = [12]int{3, -11, 12, 32, -210, 951, 3876, -805, 362, -156, 53, -11}
)

// band holds the adaptive predictor state for one of the two sub-bands.
type band struct {
	s, sp, sz     int
	r, a, ap, p   [3]int
	d, b, bp, sg  [7]int
	nb, det       int
}

func saturate(amp int) int {
	if amp > 32767 {
		return 32767
	}
	if amp < -32768 {
		return -32768
	}
	return amp
}

// block4 is the shared pole/zero predictor adaptation (Block 4 of the
// reference algorithm), run per sample for both encode and decode.
func block4(bnd *band, d int) {
	// RECONS / PARREC
	bnd.d[0] = d
	bnd.r[0] = saturate(bnd.s + d)
	bnd.p[0] = saturate(bnd.sz + d)

	// UPPOL2
	for i := 0; i < 3; i++ {
		bnd.sg[i] = bnd.p[i] >> 15
	}
	wd1 := saturate(bnd.a[1] << 2)
	wd2 := wd1
	if bnd.sg[0] == bnd.sg[1] {
		wd2 = -wd1
	}
	if wd2 > 32767 {
		wd2 = 32767
	}
	wd3 := wd2 >> 7
	if bnd.sg[0] == bnd.sg[2] {
		wd3 += 128
	} else {
		wd3 -= 128
	}
	wd3 += (bnd.a[2] * 32512) >> 15
	if wd3 > 12288 {
		wd3 = 12288
	} else if wd3 < -12288 {
		wd3 = -12288
	}
	bnd.ap[2] = wd3

	// UPPOL1
	bnd.sg[0] = bnd.p[0] >> 15
	bnd.sg[1] = bnd.p[1] >> 15
	wd1 = 192
	if bnd.sg[0] != bnd.sg[1] {
		wd1 = -192
	}
	wd2 = (bnd.a[1] * 32640) >> 15
	bnd.ap[1] = saturate(wd1 + wd2)
	wd3 = saturate(15360 - bnd.ap[2])
	if bnd.ap[1] > wd3 {
		bnd.ap[1] = wd3
	} else if bnd.ap[1] < -wd3 {
		bnd.ap[1] = -wd3
	}

	// UPZERO
	wd1 = 128
	if d == 0 {
		wd1 = 0
	}
	bnd.sg[0] = d >> 15
	for i := 1; i < 7; i++ {
		bnd.sg[i] = bnd.d[i] >> 15
		wd2 = wd1
		if bnd.sg[i] != bnd.sg[0] {
			wd2 = -wd1
		}
		wd3 = (bnd.b[i] * 32640) >> 15
		bnd.bp[i] = saturate(wd2 + wd3)
	}

	// DELAYA
	for i := 6; i > 0; i-- {
		bnd.d[i] = bnd.d[i-1]
		bnd.b[i] = bnd.bp[i]
	}
	for i := 2; i > 0; i-- {
		bnd.r[i] = bnd.r[i-1]
		bnd.p[i] = bnd.p[i-1]
		bnd.a[i] = bnd.ap[i]
	}

	// FILTEP
	wd1 = saturate(bnd.r[1] + bnd.r[1])
	wd1 = (bnd.a[1] * wd1) >> 15
	wd2 = saturate(bnd.r[2] + bnd.r[2])
	wd2 = (bnd.a[2] * wd2) >> 15
	bnd.sp = saturate(wd1 + wd2)

	// FILTEZ
	bnd.sz = 0
	for i := 6; i > 0; i-- {
		wd1 = saturate(bnd.d[i] + bnd.d[i])
		bnd.sz += (bnd.b[i] * wd1) >> 15
	}
	bnd.sz = saturate(bnd.sz)

	// PREDIC
	bnd.s = saturate(bnd.sp + bnd.sz)
}

// scaleFactor recomputes a band's quantizer scale factor from its log-scale
// accumulator (Blocks 3L/3H SCALEL/SCALEH; wbits is 8 low band, 10 high).
func scaleFactor(nb, wbits int) int {
	wd1 := (nb >> 6) & 31
	wd2 := wbits - nb>>11
	var wd3 int
	if wd2 < 0 {
		wd3 = ilb[wd1] << uint(-wd2)
	} else {
		wd3 = ilb[wd1] >> uint(wd2)
	}
	return wd3 << 2
}

// G722Encoder converts wideband PCM frames to 64 kbit/s G.722.
type G722Encoder struct {
	band [2]band
	x    [24]int
}

// NewG722Encoder returns an encoder with freshly initialized adaptation state.
func NewG722Encoder() *G722Encoder {
	e := &G722Encoder{}
	e.band[0].det = 32
	e.band[1].det = 8
	return e
}

// Encode converts exactly one frame of PCM samples into FrameBytes of G.722.
// Callers are expected to supply FrameSamples samples; anything else is
// truncated or zero-padded to a full frame.
func (e *G722Encoder) Encode(pcm []int16) []byte {
	frame := normalizePCM(pcm)
	out := make([]byte, FrameBytes)
	for i := 0; i < FrameSamples; i += 2 {
		out[i/2] = e.encodePair(int(frame[i]), int(frame[i+1]))
	}
	return out
}

// encodePair runs the transmit QMF and both sub-band quantizers over one
// pair of input samples, producing one octet (2 high-band + 6 low-band bits).
func (e *G722Encoder) encodePair(s0, s1 int) byte {
	copy(e.x[:22], e.x[2:24])
	e.x[22] = s0
	e.x[23] = s1

	sumOdd := 0
	sumEven := 0
	for i := 0; i < 12; i++ {
		sumOdd += e.x[2*i] * qmfCoeffs[i]
		sumEven += e.x[2*i+1] * qmfCoeffs[11-i]
	}
	xlow := (sumEven + sumOdd) >> 14
	xhigh := (sumEven - sumOdd) >> 14

	// Lower sub-band: SUBTRA, QUANTL
	el := saturate(xlow - e.band[0].s)
	wd := el
	if el < 0 {
		wd = -(el + 1)
	}
	i := 1
	for ; i < 30; i++ {
		wd1 := (q6[i] * e.band[0].det) >> 12
		if wd < wd1 {
			break
		}
	}
	var ilow int
	if el < 0 {
		ilow = iln[i]
	} else {
		ilow = ilp[i]
	}

	// INVQAL
	ril := ilow >> 2
	dlow := (e.band[0].det * qm4[ril]) >> 15

	// LOGSCL
	il4 := rl42[ril]
	nb := (e.band[0].nb*127)>>7 + wl[il4]
	if nb < 0 {
		nb = 0
	} else if nb > 18432 {
		nb = 18432
	}
	e.band[0].nb = nb
	e.band[0].det = scaleFactor(e.band[0].nb, 8)

	block4(&e.band[0], dlow)

	// Higher sub-band: SUBTRA, QUANTH
	eh := saturate(xhigh - e.band[1].s)
	wd = eh
	if eh < 0 {
		wd = -(eh + 1)
	}
	mih := 1
	if wd >= (564*e.band[1].det)>>12 {
		mih = 2
	}
	var ihigh int
	if eh < 0 {
		ihigh = ihn[mih]
	} else {
		ihigh = ihp[mih]
	}

	// INVQAH
	dhigh := (e.band[1].det * qm2[ihigh]) >> 15

	// LOGSCH
	ih2 := rh2[ihigh]
	nb = (e.band[1].nb*127)>>7 + wh[ih2]
	if nb < 0 {
		nb = 0
	} else if nb > 22528 {
		nb = 22528
	}
	e.band[1].nb = nb
	e.band[1].det = scaleFactor(e.band[1].nb, 10)

	block4(&e.band[1], dhigh)

	return byte(ihigh<<6 | ilow)
}

// G722Decoder converts 64 kbit/s G.722 back to wideband PCM.
type G722Decoder struct {
	band [2]band
	x    [24]int
}

// NewG722Decoder returns a decoder with freshly initialized adaptation state.
func NewG722Decoder() *G722Decoder {
	d := &G722Decoder{}
	d.band[0].det = 32
	d.band[1].det = 8
	return d
}

// Decode converts encoded G.722 bytes into PCM samples, two per input octet.
// A full FrameBytes input yields FrameSamples samples; shorter payloads yield
// proportionally fewer (inbound packets are decoded at whatever size the far
// end sent them).
func (d *G722Decoder) Decode(encoded []byte) []int16 {
	out := make([]int16, 0, len(encoded)*2)
	for _, code := range encoded {
		s0, s1 := d.decodeOctet(int(code))
		out = append(out, int16(s0), int16(s1))
	}
	return out
}

// decodeOctet reverses one octet through both sub-band inverse quantizers and
// the receive QMF, producing two output samples.
func (d *G722Decoder) decodeOctet(code int) (int, int) {
	wd1 := code & 0x3f
	ihigh := (code >> 6) & 0x03
	wd2 := qm6[wd1]
	wd1 >>= 2

	// Lower sub-band: RECONS, LIMIT
	wd2 = (d.band[0].det * wd2) >> 15
	rlow := d.band[0].s + wd2
	if rlow > 16383 {
		rlow = 16383
	} else if rlow < -16384 {
		rlow = -16384
	}

	// INVQAL
	wd2 = qm4[wd1]
	dlow := (d.band[0].det * wd2) >> 15

	// LOGSCL
	wd2 = rl42[wd1]
	nb := (d.band[0].nb*127)>>7 + wl[wd2]
	if nb < 0 {
		nb = 0
	} else if nb > 18432 {
		nb = 18432
	}
	d.band[0].nb = nb
	d.band[0].det = scaleFactor(d.band[0].nb, 8)

	block4(&d.band[0], dlow)

	// Higher sub-band: RECONS, LIMIT
	wd2 = qm2[ihigh]
	dhigh := (d.band[1].det * wd2) >> 15
	rhigh := dhigh + d.band[1].s
	if rhigh > 16383 {
		rhigh = 16383
	} else if rhigh < -16384 {
		rhigh = -16384
	}

	// INVQAH
	wd2 = rh2[ihigh]
	nb = (d.band[1].nb*127)>>7 + wh[wd2]
	if nb < 0 {
		nb = 0
	} else if nb > 22528 {
		nb = 22528
	}
	d.band[1].nb = nb
	d.band[1].det = scaleFactor(d.band[1].nb, 10)

	block4(&d.band[1], dhigh)

	// Receive QMF
	copy(d.x[:22], d.x[2:24])
	d.x[22] = rlow + rhigh
	d.x[23] = rlow - rhigh

	xout1 := 0
	xout2 := 0
	for i := 0; i < 12; i++ {
		xout2 += d.x[2*i] * qmfCoeffs[i]
		xout1 += d.x[2*i+1] * qmfCoeffs[11-i]
	}
	return saturate(xout1 >> 11), saturate(xout2 >> 11)
}

// normalizePCM pads or truncates to exactly one frame so the encoder never
// sees a partial sample pair.
func normalizePCM(pcm []int16) []int16 {
	if len(pcm) == FrameSamples {
		return pcm
	}
	frame := make([]int16, FrameSamples)
	copy(frame, pcm)
	return frame
}
