package shmbuf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"go.uber.org/zap"
)

// Prefix is prepended to the config name to build the file name.
const Prefix = "vst-bridge-"

// Path returns the file backing a buffer. /dev/shm is used when present, the
// temporary directory otherwise.
func Path(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", Prefix+name)
	}
	return filepath.Join(os.TempDir(), Prefix+name)
}

// Buffer is a mapped shared buffer.
type Buffer struct {
	cfg     Config
	path    string
	file    *os.File
	mem     []byte
	creator bool
	logger  *zap.Logger
}

// Create creates or truncates the file for cfg and maps it. The creator
// unlinks the file on Close.
func Create(cfg Config, logger *zap.Logger) (*Buffer, error) {
	b := &Buffer{path: Path(cfg.Name), creator: true, logger: logger}
	if err := b.remap(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

// Open maps a buffer created by the other side.
func Open(cfg Config, logger *zap.Logger) (*Buffer, error) {
	b := &Buffer{path: Path(cfg.Name), logger: logger}
	if err := b.remap(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

// Config returns the layout the buffer is currently mapped with.
func (b *Buffer) Config() Config {
	return b.cfg
}

// Resize adopts a new layout, remapping only when the size changed.
func (b *Buffer) Resize(cfg Config) error {
	if cfg.Name != b.cfg.Name {
		return fmt.Errorf("cannot resize buffer %q to %q", b.cfg.Name, cfg.Name)
	}
	if cfg.Size == b.cfg.Size && b.mem != nil {
		b.cfg = cfg
		return nil
	}
	return b.remap(cfg)
}

func (b *Buffer) remap(cfg Config) error {
	if err := b.unmap(); err != nil {
		return err
	}

	if b.file == nil {
		flags := os.O_RDWR
		if b.creator {
			flags |= os.O_CREATE
		}
		file, err := os.OpenFile(b.path, flags, 0600)
		if err != nil {
			return fmt.Errorf("failed to open shared buffer %s: %w", b.path, err)
		}
		b.file = file
	}
	if b.creator {
		if err := b.file.Truncate(int64(cfg.Size)); err != nil {
			return fmt.Errorf("failed to resize shared buffer: %w", err)
		}
	}

	b.cfg = cfg
	if cfg.Size == 0 {
		return nil
	}
	mem, err := mapFile(b.file, int(cfg.Size))
	if err != nil {
		return fmt.Errorf("failed to map shared buffer: %w", err)
	}
	b.mem = mem

	b.logger.Debug("mapped shared buffer",
		zap.String("path", b.path),
		zap.Uint32("size", cfg.Size),
		zap.Int("channels", cfg.Channels()),
	)
	return nil
}

func (b *Buffer) unmap() error {
	if b.mem == nil {
		return nil
	}
	mem := b.mem
	b.mem = nil
	if err := unmapFile(mem); err != nil {
		return fmt.Errorf("failed to unmap shared buffer: %w", err)
	}
	return nil
}

// Close unmaps the buffer. The creator also removes the file.
func (b *Buffer) Close() error {
	errs := []error{b.unmap()}
	if b.file != nil {
		errs = append(errs, b.file.Close())
		b.file = nil
	}
	if b.creator {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func channel[T float32 | float64](b *Buffer, offsets [][]uint32, bus, ch, frames int) []T {
	var zero T
	if frames == 0 {
		return nil
	}
	off := int(offsets[bus][ch])
	size := int(unsafe.Sizeof(zero))
	if (off+frames)*size > len(b.mem) {
		panic(fmt.Sprintf("channel %d/%d with %d frames exceeds the %d byte shared buffer", bus, ch, frames, len(b.mem)))
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b.mem[off*size])), frames)
}

// InputFloat32 returns frames samples of an input channel. The caller must
// use the precision the buffer was configured with.
func (b *Buffer) InputFloat32(bus, ch, frames int) []float32 {
	return channel[float32](b, b.cfg.InputOffsets, bus, ch, frames)
}

// OutputFloat32 returns frames samples of an output channel.
func (b *Buffer) OutputFloat32(bus, ch, frames int) []float32 {
	return channel[float32](b, b.cfg.OutputOffsets, bus, ch, frames)
}

// InputFloat64 returns frames samples of an input channel.
func (b *Buffer) InputFloat64(bus, ch, frames int) []float64 {
	return channel[float64](b, b.cfg.InputOffsets, bus, ch, frames)
}

// OutputFloat64 returns frames samples of an output channel.
func (b *Buffer) OutputFloat64(bus, ch, frames int) []float64 {
	return channel[float64](b, b.cfg.OutputOffsets, bus, ch, frames)
}
