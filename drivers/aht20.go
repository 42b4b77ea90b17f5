/*
tc2-hat-sensors - Connecting to the AHT20 sensor.
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package drivers

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/i2c"
)

const (
	AHT20Address     = 0x38
	AHT20_BUSY       = 1 << 7
	AHT20_CALIBRATED = 1 << 3
	AHT20_STATUS_REG = 0x71

	aht20Attempts      = 3
	aht20RetryInterval = time.Second
)

var aht20CRCTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// ClimateReading is temperature in °C and relative humidity in %.
type ClimateReading struct {
	Temperature sensor.Field[float64] `json:"temperature"`
	Humidity    sensor.Field[float64] `json:"humidity"`
}

// AHT20 is the temperature and humidity sensor on the HAT.
type AHT20 struct {
	Bus  i2c.Bus
	Addr uint16
}

func NewAHT20(bus i2c.Bus) *AHT20 {
	return &AHT20{Bus: bus, Addr: AHT20Address}
}

// Initialize checks calibration, which just needs to be done once at startup.
func (a *AHT20) Initialize() (sensor.Device, error) {
	d := &i2c.Dev{Bus: a.Bus, Addr: a.Addr}
	calibrated, err := aht20Calibrated(d)
	if err != nil {
		return nil, err
	}
	if calibrated {
		return d, nil
	}

	// Device is not calibrated. Trigger a reset/calibration by sending BE 08 00
	log.Debug("AHT20 is not calibrated. Triggering a manual calibration.")
	if err := d.Tx([]byte{0xBE, 0x08, 0x00}, nil); err != nil {
		return nil, err
	}
	sleepFn(100 * time.Millisecond)

	calibrated, err = aht20Calibrated(d)
	if err != nil {
		return nil, err
	}
	if !calibrated {
		return nil, errors.New("AHT20 calibration failed")
	}
	return d, nil
}

func aht20Calibrated(d *i2c.Dev) (bool, error) {
	status, err := readReg(d, AHT20_STATUS_REG, 7)
	if err != nil {
		return false, err
	}
	return status[0]&AHT20_CALIBRATED == AHT20_CALIBRATED, nil
}

// Read takes a measurement. Some sensors don't have a working CRC, always
// sending 0xFF, so in that case two readings are taken and they must agree.
func (a *AHT20) Read(dev sensor.Device) (ClimateReading, error) {
	d, err := asDev(dev)
	if err != nil {
		return ClimateReading{}, err
	}
	temp, humidity, crc, err := aht20Reading(d)
	if errors.Is(err, ErrBadCRC) && crc == 0xFF {
		previousTemp, previousHumidity := temp, humidity
		temp, humidity, crc, err = aht20Reading(d)
		if errors.Is(err, ErrBadCRC) && crc == 0xFF {
			log.Debug("No CRC, checking with multiple readings")
			if math.Abs(temp-previousTemp) > 1 || math.Abs(humidity-previousHumidity) > 1 {
				return ClimateReading{}, fmt.Errorf("%w: readings disagree, temp: %.2f, humidity: %.2f", ErrBadCRC, temp, humidity)
			}
			err = nil
		}
	}
	if err != nil {
		return ClimateReading{}, err
	}
	return ClimateReading{Temperature: sensor.Float(temp), Humidity: sensor.Float(humidity)}, nil
}

func (a *AHT20) Unavailable() ClimateReading {
	return ClimateReading{}
}

func aht20Reading(d *i2c.Dev) (float64, float64, uint8, error) {
	var temp, humidity float64
	var crc uint8
	var err error
	for range aht20Attempts {
		temp, humidity, crc, err = aht20ReadingAttempt(d)
		if err == nil || errors.Is(err, ErrBadCRC) {
			break
		}
		log.Debug("Error in attempt for getting a reading: ", err)
		sleepFn(aht20RetryInterval)
	}
	return temp, humidity, crc, err
}

func aht20ReadingAttempt(d *i2c.Dev) (float64, float64, uint8, error) {
	// Trigger reading by sending AC 33 00
	if err := d.Tx([]byte{0xAC, 0x33, 0x00}, nil); err != nil {
		return 0, 0, 0, err
	}

	// Datasheet says at least 75ms.
	ready := false
	var rawData []byte
	var err error
	for range 3 {
		sleepFn(100 * time.Millisecond)
		rawData, err = readReg(d, AHT20_STATUS_REG, 7)
		if err != nil {
			return 0, 0, 0, err
		}
		if rawData[0]&AHT20_BUSY == 0x00 {
			ready = true
			break
		}
		log.Debug("Temperature reading is not yet ready")
	}
	if !ready {
		return 0, 0, 0, fmt.Errorf("%w: AHT20 busy after 3 tries", ErrNotReady)
	}

	humidityRaw := uint32(rawData[1])<<12 | uint32(rawData[2])<<4 | uint32(rawData[3]>>4)
	humidity := float64(humidityRaw) / float64(1<<20) * 100

	temperatureRaw := uint32(rawData[3]&0x0F)<<16 | uint32(rawData[4])<<8 | uint32(rawData[5])
	temp := float64(temperatureRaw)/float64(1<<20)*200 - 50

	crc := crc8.Checksum(rawData[:6], aht20CRCTable)
	if rawData[6] != crc {
		return temp, humidity, rawData[6], ErrBadCRC
	}
	return temp, humidity, crc, nil
}
