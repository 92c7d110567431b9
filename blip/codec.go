package blip

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// This file implements the per-message encoder and decoder state machines
// described by the BLIP wire format: an outgoing Message is split into a
// sequence of frames bounded by a caller-supplied maxLen, and an incoming
// message is reassembled from frames delivered one at a time, in order, by
// the connection's receive path.
//
// Compression commitment: when FlagCompressed is set, the *entire*
// concatenation of (uncompressed property block || body) is gzipped and
// that compressed stream occupies the "rest of the frame" after the frame
// header on every frame of the message, including frame 1, where an
// uncompressed message would instead carry the literal property block.
// propertiesLength in the header always names the UNCOMPRESSED property
// block length, used after inflation to split properties from body.

// encoderState drives nextFrame for one outgoing Message.
type encoderState struct {
	number           uint32
	baseFlags        flags // authoritative bits, MORECOMING always cleared here
	propertiesLength uint32
	headerExtra      []byte // literal property block bytes on frame 1 (uncompressed messages only)
	payload          []byte // bytes split across frames: body, or the compressed stream
	cursor           int
	started          bool
	finished         bool
}

func newEncoderState(number uint32, f flags, props *Properties, body []byte) (*encoderState, error) {
	propBlock := encodePropertyBlock(props)
	e := &encoderState{
		number:           number,
		baseFlags:        f.withoutMoreComing(),
		propertiesLength: uint32(len(propBlock)),
	}
	if f.has(FlagCompressed) {
		compressed, err := gzipCompress(propBlock, body)
		if err != nil {
			return nil, err
		}
		e.payload = compressed
	} else {
		e.headerExtra = propBlock
		e.payload = body
	}
	return e, nil
}

// nextFrame returns the next frame of up to maxLen payload bytes, or
// (nil, false) if the message has already been fully sent.
func (e *encoderState) nextFrame(maxLen int) ([]byte, bool) {
	if e.finished {
		return nil, false
	}
	remaining := len(e.payload) - e.cursor
	chunk := maxLen
	if chunk > remaining {
		chunk = remaining
	}
	moreComing := chunk < remaining
	f := e.baseFlags.withBit(FlagMoreComing, moreComing)

	var buf []byte
	if !e.started {
		buf = writeFirstFrameHeader(buf, e.number, f, e.propertiesLength)
		buf = append(buf, e.headerExtra...)
		e.started = true
	} else {
		buf = writeFrameHeader(buf, e.number, f)
	}
	buf = append(buf, e.payload[e.cursor:e.cursor+chunk]...)
	e.cursor += chunk
	if !moreComing {
		e.finished = true
	}
	return buf, true
}

// decoderState drives reassembly for one incoming Message.
type decoderState struct {
	headerSeen       bool
	authoritative    flags
	compressed       bool
	propertiesLength uint32

	properties *Properties
	body       []byte

	rawBuf   []byte // uncompressed: raw body bytes; compressed: raw compressed stream bytes
	rawLen   int
	complete bool
}

// readFirstFrame ingests the first frame of an incoming message: frameBody
// is everything after the messageNumber/flags varints (so it starts with
// the propertiesLength varint).
func (d *decoderState) readFirstFrame(frameBody []byte, f flags) error {
	propertiesLength, n, err := readPropertiesLength(frameBody)
	if err != nil {
		return err
	}
	rest := frameBody[n:]
	d.compressed = f.has(FlagCompressed)
	d.propertiesLength = propertiesLength
	d.authoritative = f.withoutMoreComing()
	final := !f.has(FlagMoreComing)

	if d.compressed {
		d.rawBuf, d.rawLen = appendGrowing(d.rawBuf, d.rawLen, rest, final)
	} else {
		if len(rest) < int(propertiesLength) {
			return ErrShortFrame
		}
		props, err := decodePropertyBlock(rest[:propertiesLength])
		if err != nil {
			return err
		}
		d.properties = props
		d.rawBuf, d.rawLen = appendGrowing(d.rawBuf, d.rawLen, rest[propertiesLength:], final)
	}
	d.headerSeen = true
	if final {
		return d.finish()
	}
	return nil
}

// readNextFrame ingests a continuation frame: frameBody is everything after
// the messageNumber/flags varints (raw or compressed body bytes only; no
// properties length on continuation frames).
func (d *decoderState) readNextFrame(frameBody []byte, f flags) error {
	final := !f.has(FlagMoreComing)
	d.rawBuf, d.rawLen = appendGrowing(d.rawBuf, d.rawLen, frameBody, final)
	if final {
		return d.finish()
	}
	return nil
}

// finish runs once the last frame (MORECOMING cleared) has been ingested:
// for a compressed message it inflates rawBuf and splits the result into
// properties and body; for an uncompressed message the properties were
// already decoded in readFirstFrame and rawBuf already holds only the body.
func (d *decoderState) finish() error {
	if d.compressed {
		decoded, err := gzipDecompress(d.rawBuf[:d.rawLen])
		if err != nil {
			return ErrBadCompression
		}
		if uint32(len(decoded)) < d.propertiesLength {
			return ErrBadCompression
		}
		props, err := decodePropertyBlock(decoded[:d.propertiesLength])
		if err != nil {
			return err
		}
		d.properties = props
		d.body = decoded[d.propertiesLength:]
	} else {
		d.body = d.rawBuf[:d.rawLen]
	}
	d.complete = true
	return nil
}

// appendGrowing appends data to buf[:fillLen], growing buf's capacity
// geometrically (doubling) as needed, except when final is true: then the
// new capacity is sized to the exact requirement, avoiding leftover slack
// on the last frame of a message.
func appendGrowing(buf []byte, fillLen int, data []byte, final bool) ([]byte, int) {
	need := fillLen + len(data)
	if cap(buf) < need {
		newCap := cap(buf)
		if newCap == 0 && !final {
			newCap = 128
		}
		for !final && newCap < need {
			newCap *= 2
		}
		if newCap < need {
			newCap = need
		}
		grown := make([]byte, fillLen, newCap)
		copy(grown, buf[:fillLen])
		buf = grown
	}
	buf = buf[:need]
	copy(buf[fillLen:need], data)
	return buf, need
}

// gzipCompress gzips the concatenation of propBlock and body in one
// streaming pass, returning the compressed bytes.
func gzipCompress(propBlock, body []byte) ([]byte, error) {
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	if _, err := w.Write(propBlock); err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// gzipDecompress inflates a full compressed stream produced by
// gzipCompress.
func gzipDecompress(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
