package sink

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Stored      expvar.Int
	Duplicates  expvar.Int
	Unavailable expvar.Int
	Reconnects  expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"stored":%d,"duplicates":%d,"unavailable":%d,"reconnects":%d}`,
		s.Stored.Value(), s.Duplicates.Value(), s.Unavailable.Value(), s.Reconnects.Value())
}
