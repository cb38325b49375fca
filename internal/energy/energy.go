// Package energy supplies the energy level that seeds the availability
// scorer, either from configuration or from a battery gauge on I2C.
package energy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"lilcal/internal/availability"
	appLog "lilcal/internal/log"
)

const (
	SourceStatic  = "static"
	SourceBattery = "battery"
)

// Reading is one energy sample.
type Reading struct {
	// Level is the energy in [0,1].
	Level float64 `json:"level"`
	// Percent and VoltageMv are only set by battery-backed readers.
	Percent   int    `json:"percent,omitempty"`
	VoltageMv int    `json:"voltage_mv,omitempty"`
	Source    string `json:"source"`
}

// Reader abstracts where the energy level comes from.
type Reader interface {
	Read(ctx context.Context) (Reading, error)
}

type staticReader struct {
	level float64
}

// NewStaticReader returns a Reader that always reports level. The level is
// validated here so a bad value fails at startup, not per render.
func NewStaticReader(level float64) (Reader, error) {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return nil, fmt.Errorf("%w: %v is outside [0,1]", availability.ErrInvalidEnergy, level)
	}
	return &staticReader{level: level}, nil
}

func (s *staticReader) Read(_ context.Context) (Reading, error) {
	return Reading{Level: s.level, Source: SourceStatic}, nil
}

// i2cReader talks to a PiSugar3-style battery controller:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0–100)
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader constructs an I2C-backed Reader. busName "" selects the
// default bus. No hardware is touched until Read.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Reading, error) {
	if runtime.GOOS != "linux" {
		return Reading{}, errors.New("energy: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Reading{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Reading{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(0x22)
	if err != nil {
		return Reading{}, err
	}
	low, err := readReg(0x23)
	if err != nil {
		return Reading{}, err
	}
	pct, err := readReg(0x2A)
	if err != nil {
		return Reading{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Reading{
		Level:     float64(pct) / 100,
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
		Source:    SourceBattery,
	}, nil
}

// fallbackReader tries primary and reports fallback's value when it fails.
type fallbackReader struct {
	primary  Reader
	fallback Reader
}

func (f *fallbackReader) Read(ctx context.Context) (Reading, error) {
	rd, err := f.primary.Read(ctx)
	if err == nil {
		return rd, nil
	}
	appLog.Warn("energy: primary reader failed, using fallback", "reason", err.Error())
	return f.fallback.Read(ctx)
}

// DefaultBatteryAddr is the PiSugar3 I2C address.
const DefaultBatteryAddr = 0x57

// NewReader picks the reader for the configured source. "battery" reads the
// I2C gauge and falls back to the static level if the gauge is unreachable.
func NewReader(source string, staticLevel float64) (Reader, error) {
	static, err := NewStaticReader(staticLevel)
	if err != nil {
		return nil, err
	}
	switch source {
	case "", SourceStatic:
		return static, nil
	case SourceBattery:
		return &fallbackReader{primary: NewI2CReader("", DefaultBatteryAddr), fallback: static}, nil
	default:
		return nil, fmt.Errorf("%w: unknown energy source %q", availability.ErrInvalidConfig, source)
	}
}
