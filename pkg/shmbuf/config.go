// Package shmbuf holds the audio buffers both sides of a bridge process in
// place, so processing requests never carry sample data.
package shmbuf

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooLarge is returned when a layout does not fit in a 32-bit size.
var ErrTooLarge = errors.New("shared buffer too large")

// Precision is the sample format used for processing.
type Precision uint8

const (
	Single Precision = iota
	Double
)

// SampleSize returns the size of one sample in bytes.
func (p Precision) SampleSize() uint32 {
	if p == Double {
		return 8
	}
	return 4
}

func (p Precision) String() string {
	if p == Double {
		return "double"
	}
	return "single"
}

// Config describes the layout of a shared buffer. Offsets are in samples,
// indexed by bus and then by channel.
type Config struct {
	Name          string
	Size          uint32
	InputOffsets  [][]uint32
	OutputOffsets [][]uint32
}

// CheckSize reports whether channels channels of maxBlockSize samples each
// can be laid out by Configure.
func CheckSize(channels int, maxBlockSize uint64, precision Precision) error {
	if channels < 0 {
		return fmt.Errorf("negative channel count %d", channels)
	}
	if maxBlockSize > math.MaxUint32 ||
		uint64(channels)*maxBlockSize > math.MaxUint32/uint64(precision.SampleSize()) {
		return fmt.Errorf("%w: %d channels of %d %s samples", ErrTooLarge, channels, maxBlockSize, precision)
	}
	return nil
}

// Configure computes the layout for the given channel counts per bus. Every
// channel holds maxBlockSize samples; input channels come first, then output
// channels, all contiguous. Callers check the size with CheckSize first.
func Configure(name string, inputBuses, outputBuses []int, maxBlockSize uint32, precision Precision) Config {
	var offset uint32
	layout := func(buses []int) [][]uint32 {
		offsets := make([][]uint32, len(buses))
		for bus, channels := range buses {
			offsets[bus] = make([]uint32, channels)
			for ch := range offsets[bus] {
				offsets[bus][ch] = offset
				offset += maxBlockSize
			}
		}
		return offsets
	}

	cfg := Config{Name: name}
	cfg.InputOffsets = layout(inputBuses)
	cfg.OutputOffsets = layout(outputBuses)
	cfg.Size = offset * precision.SampleSize()
	return cfg
}

// Channels returns the number of channels over all buses.
func (c *Config) Channels() int {
	n := 0
	for _, bus := range c.InputOffsets {
		n += len(bus)
	}
	for _, bus := range c.OutputOffsets {
		n += len(bus)
	}
	return n
}

// Validate checks that offsets strictly increase in layout order, leave room
// for the same number of samples per channel, and fit in Size.
func (c *Config) Validate(precision Precision) error {
	var all []uint32
	for _, bus := range c.InputOffsets {
		all = append(all, bus...)
	}
	for _, bus := range c.OutputOffsets {
		all = append(all, bus...)
	}
	if len(all) == 0 {
		return nil
	}

	total := c.Size / precision.SampleSize()
	if total%uint32(len(all)) != 0 {
		return fmt.Errorf("size %d is not a whole number of %s channels", c.Size, precision)
	}
	stride := uint64(total / uint32(len(all)))
	for i, off := range all {
		if i > 0 && uint64(off) < uint64(all[i-1])+stride {
			return fmt.Errorf("channel %d at offset %d overlaps the previous channel at %d", i, off, all[i-1])
		}
		if uint64(off)+stride > uint64(total) {
			return fmt.Errorf("channel %d at offset %d ends past %d samples", i, off, total)
		}
	}
	return nil
}
