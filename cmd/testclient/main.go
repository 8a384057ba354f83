// Command testclient plays the host's part: it launches the surrogate for a
// plugin, drives it through a proxy with a test tone and reports the output
// level.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"pipelined.dev/signal"

	"github.com/n0izn0iz/vst-bridge/pkg/logging"
	"github.com/n0izn0iz/vst-bridge/pkg/procutil"
	"github.com/n0izn0iz/vst-bridge/pkg/proxy"
	"github.com/n0izn0iz/vst-bridge/pkg/watchdog"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

func main() {
	var pluginPath string
	flag.StringVar(&pluginPath, "plugin-path", "", "path to the plugin library")
	var hostBinary string
	flag.StringVar(&hostBinary, "host-binary", "vst-bridge-host", "surrogate binary, looked up in PATH")
	var blocks int
	flag.IntVar(&blocks, "blocks", 100, "number of blocks to process")
	var blockSize int
	flag.IntVar(&blockSize, "block-size", 512, "frames per block")
	var sampleRate float64
	flag.Float64Var(&sampleRate, "sample-rate", 48000, "sample rate")
	var frequency float64
	flag.Float64Var(&frequency, "frequency", 440, "test tone frequency")
	var debug bool
	flag.BoolVar(&debug, "debug", os.Getenv("DEBUG") == "true", "log every event crossing the bridge")

	flag.Parse()

	if pluginPath == "" {
		fmt.Fprintln(os.Stderr, "-plugin-path is required")
		os.Exit(2)
	}

	logger, err := logging.New(debug, os.Getenv("LOGFILE"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	c := &client{
		logger:     logger,
		sampleRate: sampleRate,
		blockSize:  blockSize,
	}
	if err := c.run(pluginPath, hostBinary, blocks, frequency); err != nil {
		logger.Error("test failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

type client struct {
	logger     *zap.Logger
	p          *proxy.Proxy
	sampleRate float64
	blockSize  int
	samplePos  atomic.Int64
}

// hostCallback answers the plugin like a minimal realtime host.
func (c *client) hostCallback(ev *wire.Event) *wire.EventResult {
	switch ev.Opcode {
	case wire.AudioMasterVersion:
		return &wire.EventResult{ReturnValue: 2400}
	case wire.AudioMasterGetTime:
		return &wire.EventResult{ReturnValue: 1, Payload: wire.TimeInfo{
			SamplePos:          float64(c.samplePos.Load()),
			SampleRate:         c.sampleRate,
			Tempo:              120,
			TimeSigNumerator:   4,
			TimeSigDenominator: 4,
		}}
	case wire.AudioMasterGetSampleRate:
		return &wire.EventResult{ReturnValue: int64(c.sampleRate)}
	case wire.AudioMasterGetBlockSize:
		return &wire.EventResult{ReturnValue: int64(c.blockSize)}
	case wire.AudioMasterGetCurrentProcessLevel:
		return &wire.EventResult{ReturnValue: 2}
	case wire.AudioMasterGetVendorString:
		return &wire.EventResult{ReturnValue: 1, Payload: wire.String("n0izn0iz")}
	case wire.AudioMasterGetProductString:
		return &wire.EventResult{ReturnValue: 1, Payload: wire.String("testclient")}
	}
	c.logger.Debug("unhandled host callback", zap.String("opcode", wire.OpcodeName(wire.Callback, ev.Opcode)))
	return nil
}

func (c *client) dispatch(opcode int32, index int32, value int64, opt float32) (*wire.EventResult, error) {
	res, err := c.p.Dispatch(&wire.Event{Opcode: opcode, Index: index, Value: value, Option: opt})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wire.OpcodeName(wire.Dispatch, opcode), err)
	}
	return res, nil
}

func (c *client) run(pluginPath, hostBinary string, blocks int, frequency float64) error {
	baseDir, err := procutil.EndpointBaseDir(filepath.Base(pluginPath))
	if err != nil {
		return err
	}

	c.p, err = proxy.Listen(proxy.Options{
		BaseDir:      baseDir,
		Config:       wire.Config{FrameRate: 60, CacheTimeInfo: true},
		HostCallback: c.hostCallback,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	defer c.p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.Command(hostBinary,
		"-plugin-path", pluginPath,
		"-endpoint-base-dir", baseDir,
		"-parent-pid", strconv.Itoa(os.Getpid()))
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", hostBinary, err)
	}
	defer cmd.Wait()

	if err := c.p.Connect(ctx); err != nil {
		cmd.Process.Kill()
		return err
	}

	probe, err := watchdog.NewHealthProbe(baseDir)
	if err != nil {
		return err
	}
	defer probe.Close()
	w := watchdog.Start(probe.Probe, watchdog.DefaultInterval, func() { c.p.Close() }, c.logger)
	defer w.Stop()

	desc := c.p.Descriptor()
	c.logger.Info("connected",
		zap.Int32("uniqueID", desc.UniqueID),
		zap.Int32("inputs", desc.NumInputs),
		zap.Int32("outputs", desc.NumOutputs),
		zap.Int32("params", desc.NumParams))

	if _, err := c.dispatch(wire.EffOpen, 0, 0, 0); err != nil {
		return err
	}
	if res, err := c.p.Dispatch(&wire.Event{Opcode: wire.EffGetEffectName, Payload: wire.WantsString{}}); err == nil {
		c.logger.Info("plugin name", zap.Any("name", res.Payload))
	}
	if _, err := c.dispatch(wire.EffSetSampleRate, 0, 0, float32(c.sampleRate)); err != nil {
		return err
	}
	if _, err := c.dispatch(wire.EffSetBlockSize, 0, int64(c.blockSize), 0); err != nil {
		return err
	}
	if _, err := c.dispatch(wire.EffMainsChanged, 0, 1, 0); err != nil {
		return err
	}
	if _, err := c.dispatch(wire.EffStartProcess, 0, 0, 0); err != nil {
		return err
	}

	if desc.NumParams > 0 {
		v, err := c.p.GetParameter(0)
		if err != nil {
			return err
		}
		c.logger.Info("parameter 0", zap.Float32("value", v))
	}

	peak, err := c.processTone(int(desc.NumInputs), int(desc.NumOutputs), blocks, frequency)
	if err != nil {
		return err
	}
	c.logger.Info("processed test tone", zap.Int("blocks", blocks), zap.Float64("peak", peak))

	for _, opcode := range []int32{wire.EffStopProcess, wire.EffMainsChanged, wire.EffClose} {
		if _, err := c.dispatch(opcode, 0, 0, 0); err != nil {
			return err
		}
	}
	return c.p.Close()
}

// processTone feeds a sine through the plugin and returns the output peak.
func (c *client) processTone(inputs, outputs, blocks int, frequency float64) (float64, error) {
	n := c.blockSize
	alloc := signal.Allocator{Channels: max(inputs, 1), Length: n, Capacity: n}
	in := make([][]float32, inputs)
	for ch := range in {
		in[ch] = make([]float32, n)
	}
	out := make([][]float32, outputs)
	for ch := range out {
		out[ch] = make([]float32, n)
	}

	var peak float64
	for b := 0; b < blocks; b++ {
		pos := c.samplePos.Load()
		tone := alloc.Float32()
		for ch := 0; ch < tone.Channels(); ch++ {
			for k := 0; k < n; k++ {
				phase := 2 * math.Pi * frequency * float64(pos+int64(k)) / c.sampleRate
				tone.SetSample(tone.BufferIndex(ch, k), 0.5*math.Sin(phase))
			}
		}
		for ch := range in {
			for k := range in[ch] {
				in[ch][k] = float32(tone.Sample(tone.BufferIndex(ch, k)))
			}
		}

		if err := c.p.ProcessFloat32(in, out); err != nil {
			return 0, err
		}
		c.samplePos.Add(int64(n))

		if outputs == 0 {
			continue
		}
		result := signal.Allocator{Channels: outputs, Length: n, Capacity: n}.Float32()
		for ch := range out {
			for k, v := range out[ch] {
				result.SetSample(result.BufferIndex(ch, k), float64(v))
			}
		}
		for ch := 0; ch < outputs; ch++ {
			for k := 0; k < n; k++ {
				peak = math.Max(peak, math.Abs(result.Sample(result.BufferIndex(ch, k))))
			}
		}
	}
	return peak, nil
}
