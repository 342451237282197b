package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const simChannels = 8

// PinChange is one entry of the simulated board's output journal.
type PinChange struct {
	Pin  string
	High bool
}

type soilBinding struct {
	valve string
	soil  *SoilModel
}

// SimBoard is an in-memory board: declared outputs, a journal of every
// level change, and an ADC whose conversions complete asynchronously
// after a fixed latency, like the conversion-complete interrupt.
type SimBoard struct {
	mu       sync.Mutex
	pins     map[string]bool
	journal  []PinChange
	soils    map[int]soilBinding
	scripted map[int][]int
	selected int
	sampling map[string]bool
	latency  time.Duration
	failNext int
	converts int
}

// NewSimBoard declares the given output pins, all low.
func NewSimBoard(latency time.Duration, pins ...string) *SimBoard {
	b := &SimBoard{
		pins:     make(map[string]bool, len(pins)),
		soils:    make(map[int]soilBinding),
		scripted: make(map[int][]int),
		selected: -1,
		sampling: make(map[string]bool),
		latency:  latency,
	}
	for _, p := range pins {
		b.pins[p] = false
	}
	return b
}

// Attach binds a soil model to an analog channel; the model sees the
// given valve pin as its water supply.
func (b *SimBoard) Attach(channel int, valve string, soil *SoilModel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.soils[channel] = soilBinding{valve: valve, soil: soil}
}

// Script queues fixed readings for a channel; they are served before the soil model.
func (b *SimBoard) Script(channel int, readings ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripted[channel] = append(b.scripted[channel], readings...)
}

// FailConversions makes the next n conversions fail.
func (b *SimBoard) FailConversions(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

func (b *SimBoard) Level(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins[name]
}

// Journal returns a copy of every level change since creation.
func (b *SimBoard) Journal() []PinChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PinChange, len(b.journal))
	copy(out, b.journal)
	return out
}

// Sampling reports whether the analog-capable pin is in sampling mode.
func (b *SimBoard) Sampling(pin string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampling[pin]
}

// Conversions counts completed conversions.
func (b *SimBoard) Conversions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.converts
}

func (b *SimBoard) Output(name string) (OutputPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pins[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPin, name)
	}
	return simPin{b: b, name: name}, nil
}

func (b *SimBoard) Converter() Converter { return simADC{b: b} }

func (b *SimBoard) Close() error { return nil }

type simPin struct {
	b    *SimBoard
	name string
}

func (p simPin) Set(high bool) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.pins[p.name] != high {
		p.b.pins[p.name] = high
		p.b.journal = append(p.b.journal, PinChange{Pin: p.name, High: high})
	}
	return nil
}

type simADC struct{ b *SimBoard }

func (a simADC) Select(channel int, sampleEnable string) error {
	if channel < 0 || channel >= simChannels {
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, channel)
	}
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.selected = channel
	if sampleEnable != "" {
		a.b.sampling[sampleEnable] = true
	}
	return nil
}

func (a simADC) Release(channel int, sampleEnable string) error {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	if a.b.selected == channel {
		a.b.selected = -1
	}
	delete(a.b.sampling, sampleEnable)
	return nil
}

func (a simADC) Convert(ctx context.Context) (int, error) {
	v, err := a.sample()
	if err != nil {
		return 0, err
	}

	done := make(chan int, 1)
	go func() {
		if a.b.latency > 0 {
			time.Sleep(a.b.latency)
		}
		done <- v
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case v := <-done:
		a.b.mu.Lock()
		a.b.converts++
		a.b.mu.Unlock()
		return v, nil
	}
}

func (a simADC) sample() (int, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	ch := a.b.selected
	if ch < 0 {
		return 0, ErrNoChannel
	}
	if a.b.failNext > 0 {
		a.b.failNext--
		return 0, errors.New("sim: conversion fault")
	}
	if q := a.b.scripted[ch]; len(q) > 0 {
		a.b.scripted[ch] = q[1:]
		return q[0], nil
	}
	if bind, ok := a.b.soils[ch]; ok {
		return bind.soil.Next(a.b.pins[bind.valve]), nil
	}
	return 0, nil
}
