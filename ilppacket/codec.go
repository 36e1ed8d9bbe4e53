package ilppacket

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"ilpconnector/ilpaddr"
)

// Encode renders p in the canonical binary form. It never fails for a
// structurally valid Packet whose ILP addresses pass ilpaddr.IsValid and
// whose variable-length fields respect the size limits; callers that build
// packets from untrusted input should validate first.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case Prepare:
		return encodePrepare(v)
	case Fulfill:
		return encodeFulfill(v)
	case Reject:
		return encodeReject(v)
	default:
		return nil, ErrInvalidPacket
	}
}

func encodePrepare(p Prepare) ([]byte, error) {
	if !ilpaddr.IsValid(p.Destination) {
		return nil, ErrInvalidPacket
	}
	if len(p.Data) > MaxDataLength {
		return nil, ErrInvalidPacket
	}
	var body bytes.Buffer
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], p.Amount)
	body.Write(amt[:])
	body.Write(encodeTimestamp(p.ExpiresAt))
	body.Write(p.ExecutionCondition[:])
	writeLengthPrefixed(&body, []byte(p.Destination))
	writeLengthPrefixed(&body, p.Data)
	return frame(TagPrepare, body.Bytes()), nil
}

func encodeFulfill(f Fulfill) ([]byte, error) {
	if len(f.Data) > MaxDataLength {
		return nil, ErrInvalidPacket
	}
	var body bytes.Buffer
	body.Write(f.Fulfillment[:])
	writeLengthPrefixed(&body, f.Data)
	return frame(TagFulfill, body.Bytes()), nil
}

func encodeReject(r Reject) ([]byte, error) {
	if !isValidRejectCode(r.Code) {
		return nil, ErrInvalidPacket
	}
	if r.TriggeredBy != "" && !ilpaddr.IsValid(r.TriggeredBy) {
		return nil, ErrInvalidPacket
	}
	if len(r.Message) > MaxMessageLength || !utf8.ValidString(r.Message) {
		return nil, ErrInvalidPacket
	}
	if len(r.Data) > MaxDataLength {
		return nil, ErrInvalidPacket
	}
	var body bytes.Buffer
	body.WriteString(r.Code)
	writeLengthPrefixed(&body, []byte(r.TriggeredBy))
	writeLengthPrefixed(&body, []byte(r.Message))
	writeLengthPrefixed(&body, r.Data)
	return frame(TagReject, body.Bytes()), nil
}

func frame(tag byte, body []byte) []byte {
	var out bytes.Buffer
	out.WriteByte(tag)
	writeLength(&out, len(body))
	out.Write(body)
	return out.Bytes()
}

// Decode parses data as a single ILP packet. It never panics: any
// truncation, unknown type tag, illegal address, oversized field,
// malformed timestamp, non-UTF-8 message, or trailing byte is reported as
// ErrInvalidPacket.
func Decode(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, ErrInvalidPacket
	}
	tag := data[0]
	bodyLen, pos, err := readLength(data, 1)
	if err != nil {
		return nil, err
	}
	if pos+bodyLen != len(data) {
		return nil, ErrInvalidPacket
	}
	body := data[pos : pos+bodyLen]

	switch tag {
	case TagPrepare:
		return decodePrepare(body)
	case TagFulfill:
		return decodeFulfill(body)
	case TagReject:
		return decodeReject(body)
	default:
		return nil, ErrInvalidPacket
	}
}

func decodePrepare(body []byte) (Packet, error) {
	const fixedLen = 8 + timestampLength + 32
	if len(body) < fixedLen {
		return nil, ErrInvalidPacket
	}
	amount := binary.BigEndian.Uint64(body[0:8])
	expiresAt, err := decodeTimestamp(body[8 : 8+timestampLength])
	if err != nil {
		return nil, err
	}
	var cond [32]byte
	copy(cond[:], body[8+timestampLength:fixedLen])

	pos := fixedLen
	destBytes, pos, err := readLengthPrefixed(body, pos, ilpaddr.MaxLength)
	if err != nil {
		return nil, err
	}
	destination := string(destBytes)
	if !ilpaddr.IsValid(destination) {
		return nil, ErrInvalidPacket
	}
	dataBytes, pos, err := readLengthPrefixed(body, pos, MaxDataLength)
	if err != nil {
		return nil, err
	}
	if pos != len(body) {
		return nil, ErrInvalidPacket
	}
	return Prepare{
		Amount:             amount,
		ExpiresAt:          expiresAt,
		ExecutionCondition: cond,
		Destination:        destination,
		Data:               cloneBytes(dataBytes),
	}, nil
}

func decodeFulfill(body []byte) (Packet, error) {
	if len(body) < 32 {
		return nil, ErrInvalidPacket
	}
	var fulfillment [32]byte
	copy(fulfillment[:], body[0:32])
	dataBytes, pos, err := readLengthPrefixed(body, 32, MaxDataLength)
	if err != nil {
		return nil, err
	}
	if pos != len(body) {
		return nil, ErrInvalidPacket
	}
	return Fulfill{Fulfillment: fulfillment, Data: cloneBytes(dataBytes)}, nil
}

func decodeReject(body []byte) (Packet, error) {
	if len(body) < 3 {
		return nil, ErrInvalidPacket
	}
	code := string(body[0:3])
	if !isValidRejectCode(code) {
		return nil, ErrInvalidPacket
	}
	pos := 3
	triggeredByBytes, pos, err := readLengthPrefixed(body, pos, ilpaddr.MaxLength)
	if err != nil {
		return nil, err
	}
	triggeredBy := string(triggeredByBytes)
	if triggeredBy != "" && !ilpaddr.IsValid(triggeredBy) {
		return nil, ErrInvalidPacket
	}
	messageBytes, pos, err := readLengthPrefixed(body, pos, MaxMessageLength)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(messageBytes) {
		return nil, ErrInvalidPacket
	}
	dataBytes, pos, err := readLengthPrefixed(body, pos, MaxDataLength)
	if err != nil {
		return nil, err
	}
	if pos != len(body) {
		return nil, ErrInvalidPacket
	}
	return Reject{
		Code:        code,
		TriggeredBy: triggeredBy,
		Message:     string(messageBytes),
		Data:        cloneBytes(dataBytes),
	}, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
