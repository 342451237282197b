package hal

import (
	"context"
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// PeriphConfig selects the I²C bus and ADS1115 address of the analog front end.
type PeriphConfig struct {
	I2CBus     string // "" = first bus
	ADSAddress uint16 // 0 = 0x48
	MaxVoltage physic.ElectricPotential
}

// PeriphBoard drives GPIO through periph.io and samples moisture through an
// ADS1115. Its 15-bit single-ended result is scaled down to the 10-bit range.
type PeriphBoard struct {
	bus  i2c.BusCloser
	adc  *ads1x15.Dev
	vmax physic.ElectricPotential

	mu   sync.Mutex
	pins map[string]gpio.PinIO
	chn  ads1x15.PinADC
}

func NewPeriphBoard(cfg PeriphConfig) (*PeriphBoard, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", cfg.I2CBus, err)
	}
	opts := ads1x15.DefaultOpts
	if cfg.ADSAddress != 0 {
		opts.I2cAddress = cfg.ADSAddress
	}
	adc, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ads1115 @0x%x: %w", opts.I2cAddress, err)
	}
	vmax := cfg.MaxVoltage
	if vmax <= 0 {
		vmax = 3300 * physic.MilliVolt
	}
	log.Printf("hal: periph board ready i2c=%q ads=0x%x vmax=%s", cfg.I2CBus, opts.I2cAddress, vmax)
	return &PeriphBoard{bus: bus, adc: adc, vmax: vmax, pins: make(map[string]gpio.PinIO)}, nil
}

func (b *PeriphBoard) Output(name string) (OutputPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[name]; ok {
		return periphPin{p}, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPin, name)
	}
	b.pins[name] = p
	return periphPin{p}, nil
}

func (b *PeriphBoard) Converter() Converter { return b }

func (b *PeriphBoard) Select(channel int, sampleEnable string) error {
	c, err := adsChannel(channel)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chn != nil {
		_ = b.chn.Halt()
	}
	pin, err := b.adc.PinForChannel(c, b.vmax, 128*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return fmt.Errorf("select channel %d (%s): %w", channel, sampleEnable, err)
	}
	b.chn = pin
	return nil
}

func (b *PeriphBoard) Convert(ctx context.Context) (int, error) {
	b.mu.Lock()
	pin := b.chn
	b.mu.Unlock()
	if pin == nil {
		return 0, ErrNoChannel
	}

	type result struct {
		s   analog.Sample
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := pin.Read()
		done <- result{s, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, r.err
		}
		return int(r.s.Raw >> 5), nil
	}
}

func (b *PeriphBoard) Release(channel int, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chn == nil {
		return nil
	}
	err := b.chn.Halt()
	b.chn = nil
	if err != nil {
		return fmt.Errorf("release channel %d: %w", channel, err)
	}
	return nil
}

func (b *PeriphBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chn != nil {
		_ = b.chn.Halt()
		b.chn = nil
	}
	_ = b.adc.Halt()
	return b.bus.Close()
}

type periphPin struct{ p gpio.PinIO }

func (p periphPin) Set(high bool) error {
	if high {
		return p.p.Out(gpio.High)
	}
	return p.p.Out(gpio.Low)
}

func adsChannel(ch int) (ads1x15.Channel, error) {
	switch ch {
	case 0:
		return ads1x15.Channel0, nil
	case 1:
		return ads1x15.Channel1, nil
	case 2:
		return ads1x15.Channel2, nil
	case 3:
		return ads1x15.Channel3, nil
	}
	return 0, fmt.Errorf("%w: %d (ads1115 has 4 inputs)", ErrChannelOutOfRange, ch)
}
