package ilppacket

import "bytes"

// writeLength appends n as a variable-length prefix: values below 128 fit
// in a single byte; larger values use a marker byte (0x80 | numLenBytes)
// followed by the big-endian length.
func writeLength(buf *bytes.Buffer, n int) {
	if n < 0 {
		panic("ilppacket: negative length")
	}
	if n < 128 {
		buf.WriteByte(byte(n))
		return
	}
	var lenBytes []byte
	for v := n; v > 0; v >>= 8 {
		lenBytes = append([]byte{byte(v & 0xff)}, lenBytes...)
	}
	buf.WriteByte(0x80 | byte(len(lenBytes)))
	buf.Write(lenBytes)
}

// readLength reads a variable-length prefix starting at pos and returns the
// decoded length and the position immediately following it.
func readLength(data []byte, pos int) (length, newPos int, err error) {
	if pos >= len(data) {
		return 0, pos, ErrInvalidPacket
	}
	b := data[pos]
	pos++
	if b < 128 {
		return int(b), pos, nil
	}
	numBytes := int(b & 0x7f)
	if numBytes == 0 || numBytes > 4 {
		return 0, pos, ErrInvalidPacket
	}
	if pos+numBytes > len(data) {
		return 0, pos, ErrInvalidPacket
	}
	if data[pos] == 0 {
		return 0, pos, ErrInvalidPacket // non-minimal: leading zero length byte
	}
	length = 0
	for i := 0; i < numBytes; i++ {
		length = length<<8 | int(data[pos+i])
	}
	pos += numBytes
	if length < 128 {
		return 0, pos, ErrInvalidPacket // non-minimal: fits the single-byte form
	}
	return length, pos, nil
}

// writeLengthPrefixed appends data preceded by its variable-length prefix.
func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	writeLength(buf, len(data))
	buf.Write(data)
}

// readLengthPrefixed reads a length-prefixed byte string starting at pos,
// rejecting it if the declared length exceeds maxLen or overruns data.
func readLengthPrefixed(data []byte, pos, maxLen int) (value []byte, newPos int, err error) {
	length, pos, err := readLength(data, pos)
	if err != nil {
		return nil, pos, err
	}
	if length > maxLen {
		return nil, pos, ErrInvalidPacket
	}
	if pos+length > len(data) {
		return nil, pos, ErrInvalidPacket
	}
	return data[pos : pos+length], pos + length, nil
}
