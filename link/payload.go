package link

import (
	"encoding/json"

	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
)

// Codec converts Reading to frame payload and back. Seq travels in frame header.
type Codec interface {
	Name() string
	Encode(r types.Reading) ([]byte, error)
	Decode(seq uint32, b []byte) (types.Reading, error)
}

const DefaultCodec = "proto"

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "proto":
		return ProtoCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	}
	return nil, errors.NotSupportedf("payload codec=%s", name)
}

// readingPB is protobuf message
//
//	message Reading { string date = 1; string time = 2; sint32 moisture = 3; }
type readingPB struct {
	Date     string `protobuf:"bytes,1,opt,name=date,proto3" json:"date,omitempty"`
	Time     string `protobuf:"bytes,2,opt,name=time,proto3" json:"time,omitempty"`
	Moisture int32  `protobuf:"zigzag32,3,opt,name=moisture,proto3" json:"moisture,omitempty"`
}

func (m *readingPB) Reset()         { *m = readingPB{} }
func (m *readingPB) String() string { return proto.CompactTextString(m) }
func (*readingPB) ProtoMessage()    {}

// ProtoCodec is compact default, 24 bytes for typical reading.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Encode(r types.Reading) ([]byte, error) {
	b, err := proto.Marshal(&readingPB{Date: r.Date(), Time: r.Time(), Moisture: r.Moisture})
	return b, errors.Annotate(err, "proto encode")
}

func (ProtoCodec) Decode(seq uint32, b []byte) (types.Reading, error) {
	var m readingPB
	if err := proto.Unmarshal(b, &m); err != nil {
		return types.Reading{}, errors.Annotatef(err, "proto decode seq=%d", seq)
	}
	return fromWire(seq, m.Date, m.Time, m.Moisture)
}

// JSONCodec is readable in serial sniffer dumps.
type JSONCodec struct{}

type readingJSON struct {
	Date     string
	Time     string
	Moisture int32
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(r types.Reading) ([]byte, error) {
	b, err := json.Marshal(readingJSON{Date: r.Date(), Time: r.Time(), Moisture: r.Moisture})
	return b, errors.Annotate(err, "json encode")
}

func (JSONCodec) Decode(seq uint32, b []byte) (types.Reading, error) {
	var m readingJSON
	if err := json.Unmarshal(b, &m); err != nil {
		return types.Reading{}, errors.Annotatef(err, "json decode seq=%d", seq)
	}
	return fromWire(seq, m.Date, m.Time, m.Moisture)
}

func fromWire(seq uint32, date, tim string, moisture int32) (types.Reading, error) {
	at, err := types.ParseCapturedAt(date, tim)
	if err != nil {
		return types.Reading{}, errors.Annotatef(err, "seq=%d date=%q time=%q", seq, date, tim)
	}
	return types.Reading{CapturedAt: at, Moisture: moisture, Seq: seq}, nil
}
