package drivers

import (
	"github.com/TheCacophonyProject/rpi-net-manager/netmanagerclient"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
)

type NetworkReading struct {
	State     sensor.Field[string] `json:"network_state"`
	Connected sensor.Field[bool]   `json:"wifi_connected"`
}

// Network reports the state from the network manager service.
type Network struct {
	readState func() (netmanagerclient.NetworkState, error)
}

func NewNetwork() *Network {
	return &Network{readState: netmanagerclient.ReadState}
}

// Initialize fails while the network manager can't be reached.
func (n *Network) Initialize() (sensor.Device, error) {
	if _, err := n.readState(); err != nil {
		return nil, err
	}
	return hostDevice{}, nil
}

func (n *Network) Read(sensor.Device) (NetworkReading, error) {
	state, err := n.readState()
	if err != nil {
		return NetworkReading{}, err
	}
	return NetworkReading{
		State:     sensor.Value(string(state)),
		Connected: sensor.Value(state == netmanagerclient.NS_WIFI_CONNECTED),
	}, nil
}

func (n *Network) Unavailable() NetworkReading {
	return NetworkReading{}
}
