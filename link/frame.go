package link

import (
	"encoding/binary"
	"io"

	"github.com/agroiotec/soilrelay/crc"
	"github.com/juju/errors"
)

const (
	FrameMagic      = uint16(0x5352)
	FrameHeaderSize = 2 /*magic*/ + 1 /*kind*/ + 4 /*seq*/ + 2 /*crc*/

	// XBee ZigBee unfragmented RF payload
	DefaultMaxFrame = 84
)

type Kind byte

const (
	KindInvalid Kind = iota
	KindData
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "Data"
	case KindAck:
		return "Ack"
	}
	return "Invalid"
}

// Frame is WireMessage. Checksum is filled by FrameMarshal and verified by FrameUnmarshal.
type Frame struct {
	Kind     Kind
	Seq      uint32
	Checksum uint16
	Payload  []byte
}

func NewAck(seq uint32) *Frame { return &Frame{Kind: KindAck, Seq: seq} }

func FrameMarshal(f *Frame, maxFrame int) ([]byte, error) {
	if f.Kind != KindData && f.Kind != KindAck {
		return nil, errors.Annotatef(ErrFrameInvalid, "kind=%d", f.Kind)
	}
	if f.Kind == KindAck && len(f.Payload) != 0 {
		return nil, errors.Annotate(ErrFrameInvalid, "ack with payload")
	}
	flen := FrameHeaderSize + len(f.Payload)
	if maxFrame > 0 && flen > maxFrame {
		return nil, errors.Annotatef(ErrFrameLenOverflow, "len=%d max=%d", flen, maxFrame)
	}
	b := make([]byte, flen)
	binary.BigEndian.PutUint16(b[0:], FrameMagic)
	b[2] = byte(f.Kind)
	binary.BigEndian.PutUint32(b[3:], f.Seq)
	copy(b[FrameHeaderSize:], f.Payload)
	f.Checksum = crc.CCITT(b[:7], b[FrameHeaderSize:])
	binary.BigEndian.PutUint16(b[7:], f.Checksum)
	return b, nil
}

// FrameUnmarshal never panics on arbitrary input. Payload aliases b.
func FrameUnmarshal(b []byte) (Frame, error) {
	if len(b) < FrameHeaderSize {
		return Frame{}, errors.Annotatef(ErrFrameInvalid, "header len=%d err=%v", len(b), io.ErrUnexpectedEOF)
	}
	if magic := binary.BigEndian.Uint16(b[0:]); magic != FrameMagic {
		return Frame{}, errors.Annotatef(ErrFrameInvalid, "magic=%04x", magic)
	}
	f := Frame{
		Kind:     Kind(b[2]),
		Seq:      binary.BigEndian.Uint32(b[3:]),
		Checksum: binary.BigEndian.Uint16(b[7:]),
		Payload:  b[FrameHeaderSize:],
	}
	if actual := crc.CCITT(b[:7], f.Payload); actual != f.Checksum {
		return Frame{}, errors.Annotatef(ErrChecksumMismatch, "seq=%d declared=%04x actual=%04x", f.Seq, f.Checksum, actual)
	}
	switch f.Kind {
	case KindData:
	case KindAck:
		if len(f.Payload) != 0 {
			return Frame{}, errors.Annotatef(ErrFrameInvalid, "seq=%d ack with payload", f.Seq)
		}
	default:
		return Frame{}, errors.Annotatef(ErrFrameInvalid, "seq=%d kind=%d", f.Seq, f.Kind)
	}
	return f, nil
}
