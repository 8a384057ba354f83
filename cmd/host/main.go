// Command host is the surrogate process of a bridge. It loads one VST2
// plugin and serves it to the host process that launched it through the
// endpoints in -endpoint-base-dir.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/admin"
	"github.com/n0izn0iz/vst-bridge/pkg/bridge"
	"github.com/n0izn0iz/vst-bridge/pkg/logging"
	"github.com/n0izn0iz/vst-bridge/pkg/mainctx"
	"github.com/n0izn0iz/vst-bridge/pkg/rtsched"
	"github.com/n0izn0iz/vst-bridge/pkg/watchdog"
)

// plugins expect to be created on the process's main thread
func init() {
	runtime.LockOSThread()
}

func main() {
	var pluginPath string
	flag.StringVar(&pluginPath, "plugin-path", "", "path to the plugin library")
	var baseDir string
	flag.StringVar(&baseDir, "endpoint-base-dir", "", "directory holding the host's endpoint sockets")
	var parentPID int
	flag.IntVar(&parentPID, "parent-pid", 0, "pid of the host process, watched to exit with it")
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	var debug bool
	flag.BoolVar(&debug, "debug", os.Getenv("DEBUG") == "true", "log every event crossing the bridge")

	flag.Parse()

	if pluginPath == "" || baseDir == "" {
		fmt.Fprintln(os.Stderr, "-plugin-path and -endpoint-base-dir are required")
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(debug, os.Getenv("LOGFILE"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	if err := run(logger, pluginPath, baseDir, parentPID, metricsAddr); err != nil {
		logger.Error("bridge failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger, pluginPath, baseDir string, parentPID int, metricsAddr string) error {
	logger = logger.With(zap.String("plugin", pluginPath))
	logger.Info("starting",
		zap.String("endpointBaseDir", baseDir),
		zap.Int("parentPID", parentPID),
		zap.Int("pid", os.Getpid()))
	if limit, ok := rtsched.RTTimeLimit(); ok {
		logger.Debug("realtime cpu time limit", zap.Uint64("rlimitRTTimeMicros", limit))
	}

	var observer bridge.Observer
	if metricsAddr != "" {
		metrics := admin.NewMetrics()
		srv, err := admin.ServeMetrics(metricsAddr, metrics, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		observer = metrics
	}

	adminServer, err := admin.Listen(baseDir, logger)
	if err != nil {
		return err
	}
	defer adminServer.Close()

	mainCtx := mainctx.New(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	go func() {
		defer mainCtx.Stop()
		runErr = serve(ctx, logger, mainCtx, adminServer, observer, pluginPath, baseDir, parentPID)
	}()

	mainCtx.Run()
	return runErr
}

// serve runs one bridge instance until the host disconnects or ctx is done.
func serve(ctx context.Context, logger *zap.Logger, mainCtx *mainctx.Context, adminServer *admin.Server, observer bridge.Observer, pluginPath, baseDir string, parentPID int) error {
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	inst, err := bridge.New(startCtx, bridge.Options{
		PluginPath: pluginPath,
		BaseDir:    baseDir,
		Main:       mainCtx,
		Editors:    bridge.NativeEditors(),
		Observer:   observer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	adminServer.SetServing()

	if parentPID > 0 {
		w := watchdog.Start(watchdog.PIDProbe(parentPID), watchdog.DefaultInterval, func() {
			inst.Close()
		}, logger)
		defer w.Stop()
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("received signal, shutting down")
			inst.Close()
		case <-done:
		}
	}()

	inst.Run()
	return inst.Close()
}
