package relay

import (
	"github.com/agroiotec/soilrelay/internal/state"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/juju/errors"
)

// benchEther is process local medium for radio.driver=ether dry runs.
var benchEther = radio.NewEther()

// OpenRadio returns radio selected by config, caller must Close it on every exit path.
func OpenRadio(c *state.Config, log *log2.Log) (radio.Radio, error) {
	switch c.Radio.Driver {
	case "", "xbee":
		x, err := radio.OpenXBee(c.XBeeConfig(), log)
		if err != nil {
			return nil, errors.Annotate(err, "radio")
		}
		return x, nil
	case "ether":
		log.Errorf("radio.driver=ether is in-memory, nothing leaves this process")
		return benchEther.Station(0), nil
	}
	return nil, errors.NotSupportedf("radio.driver=%s", c.Radio.Driver)
}
