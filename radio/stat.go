package radio

import "expvar"

// XBeeStat counts UART traffic and local losses, not radio retries.
type XBeeStat struct {
	BytesIn   expvar.Int
	BytesOut  expvar.Int
	BadFrames expvar.Int
	RxDropped expvar.Int
}
