package drivers

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/airquality"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"periph.io/x/conn/v3/i2c"
)

const (
	BME680PrimaryAddress   = 0x76
	BME680SecondaryAddress = 0x77

	bme680ChipID = 0x61

	bme680RegResHeatVal   = 0x00
	bme680RegResHeatRange = 0x02
	bme680RegRangeSwErr   = 0x04
	bme680RegField0       = 0x1D
	bme680RegResHeat0     = 0x5A
	bme680RegGasWait0     = 0x64
	bme680RegCtrlGas1     = 0x71
	bme680RegCtrlHum      = 0x72
	bme680RegCtrlMeas     = 0x74
	bme680RegConfig       = 0x75
	bme680RegCoeff1       = 0x89
	bme680RegChipID       = 0xD0
	bme680RegReset        = 0xE0
	bme680RegCoeff2       = 0xE1

	bme680SoftReset  = 0xB6
	bme680RunGas     = 0x10
	bme680ForcedMode = 0x01

	bme680NewData  = 0x80
	bme680GasValid = 0x20
	bme680HeatStab = 0x10

	// Ambient temperature assumed when setting the heater resistance.
	bme680AmbientTemp = 25

	bme680FieldLen  = 15
	bme680Coeff1Len = 25
	bme680Coeff2Len = 16
)

// Oversampling settings as register codes.
const (
	OversampleNone byte = iota
	Oversample1x
	Oversample2x
	Oversample4x
	Oversample8x
	Oversample16x
)

// BME680Config is how the sensor is set up on initialization.
type BME680Config struct {
	HumidityOversample    byte
	PressureOversample    byte
	TemperatureOversample byte
	// FilterCode is the IIR filter register code, 2 is a filter size of 3.
	FilterCode        byte
	HeaterTemperature float64
	HeaterDuration    time.Duration
}

func DefaultBME680Config() BME680Config {
	return BME680Config{
		HumidityOversample:    Oversample2x,
		PressureOversample:    Oversample4x,
		TemperatureOversample: Oversample8x,
		FilterCode:            2,
		HeaterTemperature:     320,
		HeaterDuration:        150 * time.Millisecond,
	}
}

// BME680 reads temperature, humidity, pressure and gas resistance for
// the air quality engine.
type BME680 struct {
	Bus    i2c.Bus
	Addr   uint16
	Config BME680Config
}

func NewBME680(bus i2c.Bus, addr uint16) *BME680 {
	return &BME680{Bus: bus, Addr: addr, Config: DefaultBME680Config()}
}

type bme680Calibration struct {
	t1         float64
	t2, t3     float64
	p1, p2, p3 float64
	p4, p5, p6 float64
	p7, p8, p9 float64
	p10        float64
	h1, h2, h3 float64
	h4, h5, h6 float64
	h7         float64
	gh1, gh2   float64
	gh3        float64

	resHeatRange float64
	resHeatVal   float64
	rangeSwErr   float64
}

type bme680Device struct {
	dev   *i2c.Dev
	cfg   BME680Config
	calib bme680Calibration
}

func (b *BME680) Initialize() (sensor.Device, error) {
	d := &i2c.Dev{Bus: b.Bus, Addr: b.Addr}
	id, err := readReg(d, bme680RegChipID, 1)
	if err != nil {
		return nil, err
	}
	if err := checkID("BME680", uint16(id[0]), bme680ChipID); err != nil {
		return nil, err
	}
	if err := writeReg(d, bme680RegReset, bme680SoftReset); err != nil {
		return nil, err
	}
	sleepFn(10 * time.Millisecond)

	calib, err := readBME680Calibration(d)
	if err != nil {
		return nil, err
	}
	dev := &bme680Device{dev: d, cfg: b.Config, calib: calib}

	cfg := b.Config
	writes := [][2]byte{
		{bme680RegCtrlHum, cfg.HumidityOversample & 0x07},
		{bme680RegConfig, (cfg.FilterCode & 0x07) << 2},
		{bme680RegResHeat0, calib.heaterResistance(cfg.HeaterTemperature, bme680AmbientTemp)},
		{bme680RegGasWait0, heaterDuration(cfg.HeaterDuration)},
		{bme680RegCtrlGas1, bme680RunGas},
		{bme680RegCtrlMeas, dev.ctrlMeas(false)},
	}
	for _, w := range writes {
		if err := writeReg(d, w[0], w[1]); err != nil {
			return nil, err
		}
	}
	return dev, nil
}

func readBME680Calibration(d *i2c.Dev) (bme680Calibration, error) {
	c1, err := readReg(d, bme680RegCoeff1, bme680Coeff1Len)
	if err != nil {
		return bme680Calibration{}, err
	}
	c2, err := readReg(d, bme680RegCoeff2, bme680Coeff2Len)
	if err != nil {
		return bme680Calibration{}, err
	}
	heatVal, err := readReg(d, bme680RegResHeatVal, 1)
	if err != nil {
		return bme680Calibration{}, err
	}
	heatRange, err := readReg(d, bme680RegResHeatRange, 1)
	if err != nil {
		return bme680Calibration{}, err
	}
	swErr, err := readReg(d, bme680RegRangeSwErr, 1)
	if err != nil {
		return bme680Calibration{}, err
	}
	return parseBME680Calibration(append(c1, c2...), heatVal[0], heatRange[0], swErr[0]), nil
}

func parseBME680Calibration(c []byte, heatVal, heatRange, swErr byte) bme680Calibration {
	u16 := func(i int) float64 { return float64(binary.LittleEndian.Uint16(c[i:])) }
	s16 := func(i int) float64 { return float64(int16(binary.LittleEndian.Uint16(c[i:]))) }
	s8 := func(i int) float64 { return float64(int8(c[i])) }
	u8 := func(i int) float64 { return float64(c[i]) }

	return bme680Calibration{
		t1:  u16(33),
		t2:  s16(1),
		t3:  s8(3),
		p1:  u16(5),
		p2:  s16(7),
		p3:  s8(9),
		p4:  s16(11),
		p5:  s16(13),
		p6:  s8(16),
		p7:  s8(15),
		p8:  s16(19),
		p9:  s16(21),
		p10: u8(23),
		h1:  float64(uint16(c[27])<<4 | uint16(c[26]&0x0F)),
		h2:  float64(uint16(c[25])<<4 | uint16(c[26]>>4)),
		h3:  s8(28),
		h4:  s8(29),
		h5:  s8(30),
		h6:  u8(31),
		h7:  s8(32),
		gh1: s8(37),
		gh2: s16(35),
		gh3: s8(38),

		resHeatVal:   float64(int8(heatVal)),
		resHeatRange: float64((heatRange & 0x30) >> 4),
		rangeSwErr:   float64(int8(swErr&0xF0) / 16),
	}
}

func (d *bme680Device) ctrlMeas(forced bool) byte {
	v := (d.cfg.TemperatureOversample&0x07)<<5 | (d.cfg.PressureOversample&0x07)<<2
	if forced {
		v |= bme680ForcedMode
	}
	return v
}

func (b *BME680) Read(dev sensor.Device) (airquality.Sample, error) {
	d, err := sensor.DeviceAs[*bme680Device](dev)
	if err != nil {
		return airquality.Sample{}, err
	}
	if err := writeReg(d.dev, bme680RegCtrlMeas, d.ctrlMeas(true)); err != nil {
		return airquality.Sample{}, err
	}
	sleepFn(d.cfg.HeaterDuration + 50*time.Millisecond)

	var field []byte
	for attempt := range 5 {
		field, err = readReg(d.dev, bme680RegField0, bme680FieldLen)
		if err != nil {
			return airquality.Sample{}, err
		}
		if field[0]&bme680NewData != 0 {
			break
		}
		if attempt == 4 {
			return airquality.Sample{}, fmt.Errorf("%w: BME680 has no new data", ErrNotReady)
		}
		sleepFn(10 * time.Millisecond)
	}
	return d.calib.compensate(field), nil
}

func (b *BME680) Unavailable() airquality.Sample {
	return airquality.Sample{}
}

// compensate converts a raw data field into a sample using Bosch's
// floating point compensation formulas.
func (c bme680Calibration) compensate(field []byte) airquality.Sample {
	presADC := float64(uint32(field[2])<<12 | uint32(field[3])<<4 | uint32(field[4])>>4)
	tempADC := float64(uint32(field[5])<<12 | uint32(field[6])<<4 | uint32(field[7])>>4)
	humADC := float64(uint16(field[8])<<8 | uint16(field[9]))
	gasADC := float64(uint16(field[13])<<2 | uint16(field[14])>>6)
	gasRange := int(field[14] & 0x0F)

	tFine := c.tFine(tempADC)
	s := airquality.Sample{
		Temperature: tFine / 5120.0,
		Pressure:    c.pressure(presADC, tFine) / 100,
		Humidity:    c.humidity(humADC, tFine),
		HeatStable:  field[14]&bme680GasValid != 0 && field[14]&bme680HeatStab != 0,
	}
	s.GasResistance = c.gasResistance(gasADC, gasRange)
	return s
}

func (c bme680Calibration) tFine(adc float64) float64 {
	var1 := (adc/16384.0 - c.t1/1024.0) * c.t2
	var2 := (adc/131072.0 - c.t1/8192.0) * (adc/131072.0 - c.t1/8192.0) * (c.t3 * 16.0)
	return var1 + var2
}

// pressure is in Pa.
func (c bme680Calibration) pressure(adc, tFine float64) float64 {
	var1 := tFine/2.0 - 64000.0
	var2 := var1 * var1 * (c.p6 / 131072.0)
	var2 += var1 * c.p5 * 2.0
	var2 = var2/4.0 + c.p4*65536.0
	var1 = (c.p3*var1*var1/16384.0 + c.p2*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * c.p1
	if var1 == 0 {
		return 0
	}
	p := 1048576.0 - adc
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = c.p9 * p * p / 2147483648.0
	var2 = p * (c.p8 / 32768.0)
	var3 := (p / 256.0) * (p / 256.0) * (p / 256.0) * (c.p10 / 131072.0)
	return p + (var1+var2+var3+c.p7*128.0)/16.0
}

func (c bme680Calibration) humidity(adc, tFine float64) float64 {
	temp := tFine / 5120.0
	var1 := adc - (c.h1*16.0 + c.h3/2.0*temp)
	var2 := var1 * (c.h2 / 262144.0 * (1.0 + c.h4/16384.0*temp + c.h5/1048576.0*temp*temp))
	var3 := c.h6 / 16384.0
	var4 := c.h7 / 2097152.0
	h := var2 + (var3+var4*temp)*var2*var2
	return math.Min(math.Max(h, 0), 100)
}

var (
	bme680K1Range = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	bme680K2Range = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

// gasResistance is in Ohms.
func (c bme680Calibration) gasResistance(adc float64, gasRange int) float64 {
	var1 := 1340.0 + 5.0*c.rangeSwErr
	var2 := var1 * (1.0 + bme680K1Range[gasRange]/100.0)
	var3 := 1.0 + bme680K2Range[gasRange]/100.0
	return 1.0 / (var3 * 0.000000125 * float64(int(1)<<gasRange) * ((adc-512.0)/var2 + 1.0))
}

// heaterResistance is the res_heat register value for a target temperature.
func (c bme680Calibration) heaterResistance(target, ambient float64) byte {
	target = math.Min(target, 400)
	var1 := c.gh1/16.0 + 49.0
	var2 := c.gh2/32768.0*0.0005 + 0.00235
	var3 := c.gh3 / 1024.0
	var4 := var1 * (1.0 + var2*target)
	var5 := var4 + var3*ambient
	res := 3.4 * (var5*(4/(4+c.resHeatRange))*(1/(1+c.resHeatVal*0.002)) - 25)
	return byte(math.Max(0, math.Min(255, res)))
}

// heaterDuration encodes a heating time as a gas_wait register value.
func heaterDuration(d time.Duration) byte {
	ms := d.Milliseconds()
	if ms >= 0xFC0 {
		return 0xFF
	}
	var factor int64
	for ms > 0x3F {
		ms /= 4
		factor++
	}
	return byte(ms + factor*64)
}
