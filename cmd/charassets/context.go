package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"charassets/config"
	"charassets/netx"
	"charassets/obs"
	"charassets/ossstore"
	"charassets/redislock"
	"charassets/registry"
	"charassets/store"
	"charassets/streamq"
)

type commandContext struct {
	configOnce sync.Once
	config     config.Config
	configErr  error

	logger      *slog.Logger
	shutdownObs obs.Shutdown
	runID       string
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		for _, dir := range []string{cfg.StateDir, cfg.CacheDir, cfg.RegistryDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				c.configErr = fmt.Errorf("create %s: %w", dir, err)
				return
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// initObs sets up logging/tracing once per process; every log line carries run_id.
func (c *commandContext) initObs() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	shutdown, logger := obs.Init("charassets")
	c.shutdownObs = shutdown
	c.runID = uuid.NewString()
	c.logger = logger.With("run_id", c.runID)
	return c.logger
}

func (c *commandContext) close() {
	if c.shutdownObs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.shutdownObs(ctx)
}

// runtime is everything a probe/sync run needs. It owns the run locks and
// the shared Redis client.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	rdb        *redis.Client
	localLock  *flock.Flock
	releaseRun func()

	net       *netx.Client
	registry  *registry.Registry
	scanStats store.ScanStatsStore
	oss       *ossstore.Store
	notifier  *streamq.UploadStream
}

type runtimeNeeds struct {
	objectStore bool
	// readOnly skips the run locks; used by inspection commands.
	readOnly bool
}

var errStateLocked = errors.New("another charassets run holds the state directory lock")

func (c *commandContext) openRuntime(ctx context.Context, needs runtimeNeeds) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.initObs()

	rt := &runtime{cfg: cfg, logger: logger, runID: c.runID}

	if !needs.readOnly {
		lk := flock.New(cfg.LockPath())
		ok, err := lk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire state lock: %w", err)
		}
		if !ok {
			return nil, errStateLocked
		}
		rt.localLock = lk
	}

	if needs.objectStore {
		st, enabled, err := ossstore.NewFromEnv()
		if err != nil {
			if enabled {
				log.Fatalf("init oss store failed: %v", err)
			}
		}
		if !enabled {
			log.Fatalf("object storage disabled: sync requires OSS_BUCKET")
		}
		rt.oss = st
		logger.Info("oss store enabled", "bucket", st.BucketName())
	}

	if cfg.RedisEnabled() {
		rt.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if !needs.readOnly {
			lockName := "run:" + filepath.Base(filepath.Clean(cfg.StateDir))
			if rt.oss != nil {
				lockName = "run:" + rt.oss.BucketName()
			}
			release, err := redislock.New(rt.rdb, "").Hold(ctx, lockName, cfg.LockTTL, 0)
			if err != nil {
				rt.close()
				return nil, fmt.Errorf("acquire run lock %s: %w", lockName, err)
			}
			rt.releaseRun = release
		}
		if cfg.UploadStreamKey != "" {
			rt.notifier = streamq.NewUploadStream(rt.rdb, cfg.UploadStreamKey, cfg.UploadStreamMax)
		}
	}

	if cfg.MetricsAddr != "" && !needs.readOnly {
		go serveMetrics(cfg.MetricsAddr)
	}

	switch cfg.ScanStatsBackend {
	case config.ScanStatsBackendRedis:
		rt.scanStats, err = store.NewRedisScanStatsStore(rt.rdb, "")
	default:
		rt.scanStats, err = store.OpenFileScanStatsStore(cfg.ScanStatsPath())
	}
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open scan stats: %w", err)
	}

	rt.registry, err = registry.Open(cfg.RegistryDir())
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	rt.net = netx.New(netx.Config{
		Mirrors:           cfg.DataMirrors,
		RequestsPerSecond: cfg.ProbeRPS,
		Logger:            logger,
	})
	return rt, nil
}

func (rt *runtime) close() {
	if rt == nil {
		return
	}
	if rt.releaseRun != nil {
		rt.releaseRun()
		rt.releaseRun = nil
	}
	if rt.rdb != nil {
		_ = rt.rdb.Close()
		rt.rdb = nil
	}
	if rt.localLock != nil {
		_ = rt.localLock.Unlock()
		rt.localLock = nil
	}
}

// finish pushes batch metrics when a pushgateway is configured.
func (rt *runtime) finish(job string) {
	if rt.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obs.Push(ctx, rt.cfg.PushgatewayURL, job); err != nil {
		rt.logger.Warn("pushgateway push failed", "err", err)
	}
}
