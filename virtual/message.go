// Package virtual is a sensor fed by iot_logger messages from another
// device, received over MQTT or a serial line.
package virtual

import (
	"encoding/json"
	"fmt"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
)

// Message is one iot_logger document. A section or value missing from the
// document is not available.
type Message struct {
	BME68x     *EnvironmentSection  `json:"BME68x"`
	VEML7700   *LightSection        `json:"VEML7700"`
	TMP117     *TemperatureSection  `json:"TMP117"`
	MAX17048   *BatterySection      `json:"MAX17048"`
	SystemInfo *SystemInfoSection   `json:"System Info"`
	STHS34PF80 *PresenceSection     `json:"STHS34PF80"`
	MMC5983    *MagnetometerSection `json:"MMC5983"`
}

type EnvironmentSection struct {
	Temperature   sensor.Field[float64] `json:"TemperatureC"`
	Humidity      sensor.Field[float64] `json:"Humidity"`
	Pressure      sensor.Field[float64] `json:"Pressure"`
	GasResistance sensor.Field[float64] `json:"Gas Resistance"`
}

type LightSection struct {
	Lux sensor.Field[float64] `json:"Lux"`
}

type TemperatureSection struct {
	Temperature sensor.Field[float64] `json:"Temperature (C)"`
}

type BatterySection struct {
	Voltage       sensor.Field[float64] `json:"Voltage (V)"`
	StateOfCharge sensor.Field[float64] `json:"State Of Charge (%)"`
}

type SystemInfoSection struct {
	SSID sensor.Field[string]  `json:"SSID"`
	RSSI sensor.Field[float64] `json:"RSSI"`
}

type PresenceSection struct {
	Presence    sensor.Field[float64] `json:"Presence (cm^-1)"`
	Motion      sensor.Field[float64] `json:"Motion (LSB)"`
	Temperature sensor.Field[float64] `json:"Temperature (C)"`
}

type MagnetometerSection struct {
	X           sensor.Field[float64] `json:"X Field (Gauss)"`
	Y           sensor.Field[float64] `json:"Y Field (Gauss)"`
	Z           sensor.Field[float64] `json:"Z Field (Gauss)"`
	Temperature sensor.Field[float64] `json:"Temperature (C)"`
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding iot_logger message: %w", err)
	}
	return m, nil
}
