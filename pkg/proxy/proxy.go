// Package proxy is the host side of a bridge: it looks like a plugin to the
// host and forwards everything to the surrogate process.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/endpoint"
	"github.com/n0izn0iz/vst-bridge/pkg/logging"
	"github.com/n0izn0iz/vst-bridge/pkg/rtsched"
	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

var (
	// ErrNotPrepared is returned when processing before effMainsChanged
	// reported a buffer layout.
	ErrNotPrepared = errors.New("audio processing is not prepared")
	// ErrBlockTooLarge is returned for blocks exceeding the block size the
	// buffer was configured with.
	ErrBlockTooLarge = errors.New("block exceeds the configured block size")
	// ErrPrecision is returned when processing with a precision the buffer
	// was not configured for.
	ErrPrecision = errors.New("processing precision does not match the buffer")
)

// HostCallback answers the plugin's audioMaster calls.
type HostCallback func(ev *wire.Event) *wire.EventResult

// Options configure Listen.
type Options struct {
	BaseDir      string
	Config       wire.Config
	HostCallback HostCallback
	Registry     *wire.Registry
	Scheduler    rtsched.Scheduler
	Logger       *zap.Logger
}

// Proxy mirrors one bridge instance.
type Proxy struct {
	logger   *zap.Logger
	events   *logging.EventLogger
	config   wire.Config
	callback HostCallback
	sync     *rtsched.Synchronizer
	set      *endpoint.Set

	mu   sync.Mutex
	desc wire.Descriptor

	// processMu serializes audio blocks and guards the buffer.
	processMu sync.Mutex
	buffer    *shmbuf.Buffer
	precision shmbuf.Precision
	bufPrec   shmbuf.Precision
	maxBlock  int

	callbacksDone chan struct{}
	callbacksErr  error
	closeOnce     sync.Once
}

// Listen creates the host's endpoints and starts serving host callbacks. The
// surrogate can be started once Listen returns.
func Listen(opts Options) (*Proxy, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = wire.DefaultRegistry()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = rtsched.Thread{}
	}
	if opts.HostCallback == nil {
		opts.HostCallback = func(*wire.Event) *wire.EventResult { return nil }
	}

	logger := opts.Logger.Named("proxy").With(zap.String("baseDir", opts.BaseDir))
	p := &Proxy{
		logger:        logger,
		events:        logging.NewEventLogger(logger),
		config:        opts.Config,
		callback:      opts.HostCallback,
		sync:          rtsched.NewSynchronizer(opts.Scheduler),
		set:           endpoint.NewSet(opts.BaseDir, endpoint.Host, opts.Registry, logger),
		callbacksDone: make(chan struct{}),
	}
	if err := p.set.Listen(); err != nil {
		return nil, err
	}
	go p.serveCallbacks()
	return p, nil
}

func (p *Proxy) serveCallbacks() {
	defer close(p.callbacksDone)
	p.callbacksErr = p.set.Callback.ReceiveEvents(func(ev *wire.Event, _ bool) *wire.EventResult {
		p.events.LogEvent(wire.Callback, ev)
		if ev.Opcode == wire.AudioMasterIOChanged {
			if desc, ok := ev.Payload.(wire.Descriptor); ok {
				p.mu.Lock()
				p.desc = desc
				p.mu.Unlock()
			}
		}
		res := p.callback(ev)
		if res == nil {
			res = &wire.EventResult{Payload: wire.None{}}
		}
		p.events.LogResult(wire.Callback, ev.Opcode, res, false)
		return res
	})
	if p.callbacksErr != nil {
		p.logger.Error("callback loop failed", zap.Error(p.callbacksErr))
	}
	p.set.Close()
}

// Connect waits for the surrogate's descriptor, sends the session
// configuration and connects the remaining endpoints.
func (p *Proxy) Connect(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		var desc wire.Descriptor
		if err := p.set.Control.Receive(&desc); err != nil {
			done <- fmt.Errorf("failed to receive the plugin descriptor: %w", err)
			return
		}
		p.mu.Lock()
		p.desc = desc
		p.mu.Unlock()
		if err := p.set.Control.Send(&p.config); err != nil {
			done <- fmt.Errorf("failed to send the session configuration: %w", err)
			return
		}
		done <- p.set.Connect(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			p.Close()
		}
		return err
	case <-ctx.Done():
		// unblocks the handshake goroutine
		p.Close()
		<-done
		return ctx.Err()
	}
}

// Descriptor returns the plugin's latest AEffect snapshot.
func (p *Proxy) Descriptor() wire.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desc
}

// Dispatch forwards a dispatcher call. A buffer layout returned by
// effMainsChanged is mapped and not passed on.
func (p *Proxy) Dispatch(ev *wire.Event) (*wire.EventResult, error) {
	if ev.Payload == nil {
		ev.Payload = wire.None{}
	}
	p.events.LogEvent(wire.Dispatch, ev)
	res, err := p.set.Dispatch.SendEvent(ev)
	if err != nil {
		return nil, err
	}
	p.events.LogResult(wire.Dispatch, ev.Opcode, res, false)

	switch ev.Opcode {
	case wire.EffSetProcessPrecision:
		p.processMu.Lock()
		p.precision = shmbuf.Single
		if ev.Value == wire.ProcessPrecision64 {
			p.precision = shmbuf.Double
		}
		p.processMu.Unlock()
	case wire.EffMainsChanged:
		if cfg, ok := res.Payload.(wire.BufferConfig); ok {
			if err := p.mapBuffer(cfg.Config); err != nil {
				return nil, err
			}
			res.Payload = wire.None{}
		}
	}
	return res, nil
}

func (p *Proxy) mapBuffer(cfg shmbuf.Config) error {
	p.processMu.Lock()
	defer p.processMu.Unlock()

	if err := cfg.Validate(p.precision); err != nil {
		return fmt.Errorf("invalid buffer layout: %w", err)
	}
	var err error
	if p.buffer == nil || p.buffer.Config().Name != cfg.Name {
		if p.buffer != nil {
			p.buffer.Close()
		}
		p.buffer, err = shmbuf.Open(cfg, p.logger)
	} else {
		err = p.buffer.Resize(cfg)
	}
	if err != nil {
		p.buffer = nil
		return fmt.Errorf("failed to map the audio buffer: %w", err)
	}

	p.bufPrec = p.precision
	p.maxBlock = 0
	if ch := cfg.Channels(); ch > 0 {
		p.maxBlock = int(cfg.Size / p.precision.SampleSize() / uint32(ch))
	}
	p.logger.Debug("mapped audio buffer",
		zap.String("name", cfg.Name),
		zap.Uint32("size", cfg.Size),
		zap.Int("maxBlockSize", p.maxBlock))
	return nil
}

// GetParameter reads a parameter through the parameters endpoint.
func (p *Proxy) GetParameter(index int32) (float32, error) {
	var res wire.ParameterResult
	if err := p.set.Parameters.Roundtrip(&wire.Parameter{Index: index}, &res); err != nil {
		return 0, err
	}
	if res.Value == nil {
		return 0, fmt.Errorf("no value for parameter %d", index)
	}
	return *res.Value, nil
}

// SetParameter writes a parameter through the parameters endpoint.
func (p *Proxy) SetParameter(index int32, value float32) error {
	return p.set.Parameters.Roundtrip(&wire.Parameter{Index: index, Value: &value}, &wire.ParameterResult{})
}

// ProcessFloat32 processes one block in single precision. All channels must
// have the same length.
func (p *Proxy) ProcessFloat32(inputs, outputs [][]float32) error {
	return process(p, inputs, outputs, shmbuf.Single, (*shmbuf.Buffer).InputFloat32, (*shmbuf.Buffer).OutputFloat32)
}

// ProcessFloat64 processes one block in double precision.
func (p *Proxy) ProcessFloat64(inputs, outputs [][]float64) error {
	return process(p, inputs, outputs, shmbuf.Double, (*shmbuf.Buffer).InputFloat64, (*shmbuf.Buffer).OutputFloat64)
}

type channelFunc[T float32 | float64] func(b *shmbuf.Buffer, bus, ch, frames int) []T

func process[T float32 | float64](p *Proxy, inputs, outputs [][]T, precision shmbuf.Precision, input, output channelFunc[T]) error {
	frames := blockLength(inputs, outputs)

	p.processMu.Lock()
	defer p.processMu.Unlock()

	if p.buffer == nil {
		return ErrNotPrepared
	}
	if p.bufPrec != precision {
		return fmt.Errorf("%w: buffer is %s, block is %s", ErrPrecision, p.bufPrec, precision)
	}
	if frames > p.maxBlock {
		return fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, frames, p.maxBlock)
	}

	cfg := p.buffer.Config()
	for ch, in := range inputs {
		if len(cfg.InputOffsets) > 0 && ch < len(cfg.InputOffsets[0]) {
			copy(input(p.buffer, 0, ch, frames), in)
		}
	}

	req := p.processRequest(int32(frames), precision == shmbuf.Double)
	if err := p.set.Process.Roundtrip(req, &wire.Ack{}); err != nil {
		return err
	}

	for ch, out := range outputs {
		if len(cfg.OutputOffsets) > 0 && ch < len(cfg.OutputOffsets[0]) {
			copy(out, output(p.buffer, 0, ch, frames))
		} else {
			clear(out)
		}
	}
	return nil
}

func blockLength[T any](inputs, outputs [][]T) int {
	for _, ch := range outputs {
		return len(ch)
	}
	for _, ch := range inputs {
		return len(ch)
	}
	return 0
}

// processRequest prefetches what the plugin is likely to ask the host during
// the block.
func (p *Proxy) processRequest(frames int32, double bool) *wire.ProcessRequest {
	req := &wire.ProcessRequest{SampleFrames: frames, DoublePrecision: double}
	if prio, ok := p.sync.Poll(); ok {
		req.NewRealtimePriority = &prio
	}
	if p.config.CacheTimeInfo {
		res := p.callback(&wire.Event{Opcode: wire.AudioMasterGetTime, Payload: wire.WantsTimeInfo{}})
		if res != nil {
			if ti, ok := res.Payload.(wire.TimeInfo); ok {
				req.CurrentTimeInfo = &ti
			}
		}
	}
	if res := p.callback(&wire.Event{Opcode: wire.AudioMasterGetCurrentProcessLevel, Payload: wire.None{}}); res != nil {
		req.CurrentProcessLevel = int32(res.ReturnValue)
	}
	return req
}

// Wait blocks until the surrogate disconnects.
func (p *Proxy) Wait() error {
	<-p.callbacksDone
	return p.callbacksErr
}

// Close disconnects from the surrogate and unmaps the buffer.
func (p *Proxy) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		errs = append(errs, p.set.Close())
		p.processMu.Lock()
		if p.buffer != nil {
			errs = append(errs, p.buffer.Close())
			p.buffer = nil
		}
		p.processMu.Unlock()
	})
	return errors.Join(errs...)
}
