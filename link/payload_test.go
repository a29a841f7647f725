package link

import (
	"testing"
	"time"

	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReading(seq uint32, moisture int32) types.Reading {
	return types.Reading{
		CapturedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local),
		Moisture:   moisture,
		Seq:        seq,
	}
}

func TestCodecs(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"proto", "json"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, err := CodecByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())
			for _, m := range []int32{42, 0, -17, 2147483647, -2147483648} {
				r := testReading(9, m)
				b, err := c.Encode(r)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(b)+FrameHeaderSize, DefaultMaxFrame)
				back, err := c.Decode(9, b)
				require.NoError(t, err)
				assert.True(t, r.Equal(back), "expected=%s actual=%s", r, back)
			}
		})
	}
}

func TestCodecWireFormat(t *testing.T) {
	t.Parallel()
	r := testReading(1, 42)
	b, err := JSONCodec{}.Encode(r)
	require.NoError(t, err)
	assert.Equal(t, `{"Date":"2024-03-01","Time":"10:00:00","Moisture":42}`, string(b))

	b, err = ProtoCodec{}.Encode(r)
	require.NoError(t, err)
	assert.Equal(t, 24, len(b))
	// field 3 sint32 zigzag(42)=84
	assert.Equal(t, []byte{0x18, 84}, b[len(b)-2:])
}

func TestCodecErrors(t *testing.T) {
	t.Parallel()
	_, err := CodecByName("xml")
	assert.True(t, errors.IsNotSupported(err))

	_, err = JSONCodec{}.Decode(1, []byte("{"))
	assert.Error(t, err)
	_, err = JSONCodec{}.Decode(1, []byte(`{"Date":"yesterday","Time":"10:00:00","Moisture":1}`))
	assert.Error(t, err)
	_, err = ProtoCodec{}.Decode(1, []byte{0xff, 0xff})
	assert.Error(t, err)
}
