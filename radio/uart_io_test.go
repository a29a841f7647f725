package radio

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkPort accepts at most n bytes per Write, like busy USB serial adapter.
type chunkPort struct {
	io.Reader
	out    bytes.Buffer
	n      int
	writes int
	err    error
}

func (p *chunkPort) Write(b []byte) (int, error) {
	p.writes++
	if p.err != nil && p.out.Len() >= p.n {
		return 0, p.err
	}
	if len(b) > p.n {
		b = b[:p.n]
	}
	return p.out.Write(b)
}

func TestStatPortWriteFrame(t *testing.T) {
	t.Parallel()
	frame := apiEncode(txRequest(1, Addr64(0x0013a20040a1b2c3), []byte("soil moisture 42")), true)
	cases := []struct {
		name      string
		chunk     int
		err       error
		wantOut   int
		wantWrite int
		wantErr   error
	}{
		{"whole", 1024, nil, len(frame), 1, nil},
		{"chunked", 7, nil, len(frame), (len(frame) + 6) / 7, nil},
		{"single-byte", 1, nil, len(frame), len(frame), nil},
		{"stuck", 0, nil, 0, 1, io.ErrShortWrite},
		{"fail-midway", 10, fmt.Errorf("input/output error"), 10, 2, fmt.Errorf("input/output error")},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			port := &chunkPort{n: c.chunk, err: c.err}
			var stat XBeeStat
			err := statPort{port: port, stat: &stat}.writeFrame(frame)
			if c.wantErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.wantErr.Error(), err.Error())
			} else {
				require.NoError(t, err)
				assert.Equal(t, frame, port.out.Bytes())
			}
			assert.Equal(t, c.wantWrite, port.writes)
			assert.Equal(t, int64(c.wantOut), stat.BytesOut.Value())
			assert.Equal(t, int64(port.out.Len()), stat.BytesOut.Value())
		})
	}
}

func TestStatPortRead(t *testing.T) {
	t.Parallel()
	var stat XBeeStat
	p := statPort{port: &chunkPort{Reader: strings.NewReader(strings.Repeat("~", 40))}, stat: &stat}
	buf := make([]byte, 17)
	_, _ = p.Read(buf[:0])
	assert.Equal(t, int64(0), stat.BytesIn.Value())
	_, _ = p.Read(buf[:5])
	assert.Equal(t, int64(5), stat.BytesIn.Value())
	_, _ = p.Read(buf)
	_, _ = p.Read(buf)
	n, err := p.Read(buf)
	assert.Equal(t, 1, n)
	require.NoError(t, err)
	_, err = p.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, int64(40), stat.BytesIn.Value())
	assert.Equal(t, int64(0), stat.BytesOut.Value())
}
