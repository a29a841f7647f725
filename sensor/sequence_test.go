package sensor

import (
	"testing"
	"time"

	"github.com/agroiotec/soilrelay/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerMemory(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	now := time.Unix(1700000000, 0)
	s, err := NewSequencer("", now, log)
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000000), s.Last())
	seq, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000001), seq)
}

func TestSequencerPersistAcrossRestart(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()

	s1, err := NewSequencer(root, time.Unix(100, 0), log)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s1.Next()
		require.NoError(t, err)
	}
	assert.Equal(t, uint32(103), s1.Last())

	// clock went backwards, persisted id wins
	s2, err := NewSequencer(root, time.Unix(50, 0), log)
	require.NoError(t, err)
	seq, err := s2.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(104), seq)
}

func TestSequencerExhausted(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s, err := NewSequencer("", time.Unix(0, 0), log)
	require.NoError(t, err)
	require.NoError(t, s.UnmarshalBinary([]byte{0xff, 0xff, 0xff, 0xff}))
	_, err = s.Next()
	assert.Equal(t, ErrSeqExhausted, err)
	assert.Error(t, s.UnmarshalBinary([]byte{1}))
}
