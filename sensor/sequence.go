package sensor

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/agroiotec/soilrelay/internal/state/persist"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
)

var ErrSeqExhausted = errors.New("sequence ids exhausted")

// Sequencer issues strictly increasing reading ids.
// With root set, last issued id survives restart in crash-safe state file.
// Without, or when state file is empty, it starts from wall clock seconds.
type Sequencer struct {
	mu      sync.Mutex
	last    uint32
	persist persist.Persist
	log     *log2.Log
}

func NewSequencer(root string, now time.Time, log *log2.Log) (*Sequencer, error) {
	s := &Sequencer{log: log}
	if err := s.persist.Init("sequence", s, root, root != "", log); err != nil {
		return nil, errors.Trace(err)
	}
	found, err := s.persist.Load()
	if err != nil {
		return nil, errors.Annotate(err, "sequencer")
	}
	if !found {
		s.last = uint32(now.Unix())
	}
	log.Debugf("sequencer start last=%d persist=%t", s.last, s.persist.Enabled())
	return s, nil
}

func (s *Sequencer) Next() (uint32, error) {
	s.mu.Lock()
	if s.last == math.MaxUint32 {
		s.mu.Unlock()
		return 0, ErrSeqExhausted
	}
	s.last++
	seq := s.last
	s.mu.Unlock()

	if err := s.persist.Store(); err != nil {
		// id is still unique within this run
		s.log.Errorf("sequencer seq=%d err=%v", seq, err)
	}
	return seq, nil
}

func (s *Sequencer) Last() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// called by persist.Store with persist lock held
func (s *Sequencer) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, s.Last())
	return b, nil
}

func (s *Sequencer) UnmarshalBinary(b []byte) error {
	if len(b) != 4 {
		return errors.NotValidf("sequence state len=%d", len(b))
	}
	s.mu.Lock()
	s.last = binary.BigEndian.Uint32(b)
	s.mu.Unlock()
	return nil
}
