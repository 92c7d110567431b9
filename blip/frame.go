package blip

// A BLIP frame is exactly one transport binary message. Its header is two
// or three varints:
//
//	varint  messageNumber
//	varint  flags              (low 8 bits significant)
//	varint  propertiesLength   (first frame of a message only)
//	bytes   propertyBlock[propertiesLength]   (first frame only)
//	bytes   body chunk
//
// This file only knows how to read/write that header; codec.go drives the
// per-message state machine that decides when a frame is "first."

// writeFrameHeader appends the messageNumber and flags varints to dst and
// returns the result. Used for continuation frames.
func writeFrameHeader(dst []byte, number uint32, f flags) []byte {
	dst = putUvarint(dst, number)
	dst = putUvarint(dst, uint32(f))
	return dst
}

// writeFirstFrameHeader appends messageNumber, flags, and propertiesLength
// to dst and returns the result. Used only for a message's first frame.
func writeFirstFrameHeader(dst []byte, number uint32, f flags, propertiesLength uint32) []byte {
	dst = writeFrameHeader(dst, number, f)
	dst = putUvarint(dst, propertiesLength)
	return dst
}

// readFrameHeader reads messageNumber and flags from the front of buf. It
// returns the decoded values and the number of bytes consumed.
func readFrameHeader(buf []byte) (number uint32, f flags, n int, err error) {
	number, n1, err := uvarint(buf)
	if err != nil {
		return 0, 0, 0, err
	}
	rawFlags, n2, err := uvarint(buf[n1:])
	if err != nil {
		return 0, 0, 0, err
	}
	return number, flags(rawFlags), n1 + n2, nil
}

// readPropertiesLength reads the propertiesLength varint from the front of
// buf (used only on a message's first frame, immediately after the header
// varints). It returns the decoded length and bytes consumed.
func readPropertiesLength(buf []byte) (length uint32, n int, err error) {
	return uvarint(buf)
}
