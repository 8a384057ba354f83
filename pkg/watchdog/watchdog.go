// Package watchdog shuts a bridge down when the process on the other side
// went away without closing its sockets, e.g. after being killed.
package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/n0izn0iz/vst-bridge/pkg/admin"
	"github.com/n0izn0iz/vst-bridge/pkg/procutil"
)

// DefaultInterval is how often the partner is probed.
const DefaultInterval = 30 * time.Second

// Probe reports whether the partner is still alive.
type Probe func(ctx context.Context) bool

// PIDProbe checks that a process is running.
func PIDProbe(pid int) Probe {
	return func(context.Context) bool { return procutil.PIDRunning(pid) }
}

// HealthProbe checks a bridge through its admin socket. A bridge that is
// NOT_SERVING or unreachable counts as gone.
type HealthProbe struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewHealthProbe prepares a probe for the bridge in baseDir. Connecting is
// lazy.
func NewHealthProbe(baseDir string) (*HealthProbe, error) {
	conn, err := grpc.NewClient("unix://"+admin.SocketPath(baseDir), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &HealthProbe{conn: conn, client: healthpb.NewHealthClient(conn)}, nil
}

// Probe implements Probe.
func (p *HealthProbe) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: admin.Service})
	return err == nil && res.Status == healthpb.HealthCheckResponse_SERVING
}

// Close closes the connection.
func (p *HealthProbe) Close() error { return p.conn.Close() }

// Watchdog probes its partner periodically.
type Watchdog struct {
	logger   *zap.Logger
	probe    Probe
	interval time.Duration
	shutdown func()

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start probes every interval until Stop is called. shutdown runs at most
// once, the first time the probe fails. It returns nil when the watchdog is
// disabled through the environment.
func Start(probe Probe, interval time.Duration, shutdown func(), logger *zap.Logger) *Watchdog {
	if procutil.WatchdogDisabled() {
		logger.Info("watchdog disabled", zap.String("env", procutil.NoWatchdogEnv))
		return nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchdog{
		logger:   logger.Named("watchdog"),
		probe:    probe,
		interval: interval,
		shutdown: shutdown,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.probe(ctx) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("partner process is gone, shutting down")
			w.once.Do(w.shutdown)
			return
		}
	}
}

// Stop ends probing. It is safe to call on a nil Watchdog.
func (w *Watchdog) Stop() {
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}
