package coremain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pmkol/sharedlist/mlog"
	"github.com/pmkol/sharedlist/pkg/cache"
	"github.com/pmkol/sharedlist/pkg/cache/mem_cache"
	"github.com/pmkol/sharedlist/pkg/cache/redis_cache"
	"github.com/pmkol/sharedlist/pkg/registry"
	"github.com/pmkol/sharedlist/pkg/safe_close"
	"github.com/pmkol/sharedlist/pkg/server"
	"github.com/pmkol/sharedlist/pkg/server/http_handler"
)

type SharedList struct {
	cfg    *Config
	logger *zap.Logger
	level  zap.AtomicLevel

	queues *registry.Registry
	cache  cache.Backend

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	// Set by Run.
	addr    net.Addr
	h3Addr  net.Addr
	apiAddr net.Addr
	ready   chan struct{}
	done    chan struct{}

	sc *safe_close.SafeClose
}

// NewSharedList builds the runtime from cfg. Nothing listens until Run.
func NewSharedList(cfg *Config) (*SharedList, error) {
	lg, lvl, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	m := &SharedList{
		cfg:        cfg,
		logger:     lg,
		level:      lvl,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		sc:         safe_close.NewSafeClose(),
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	m.queues, err = registry.New(registry.Opts{
		DefaultMaxLen: cfg.Queues.DefaultMaxLen,
		MaxLen:        cfg.Queues.MaxLen,
		Registerer:    m.GetMetricsReg(),
		Logger:        lg.Named("registry"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init queue registry, %w", err)
	}

	m.cache, err = newCache(&cfg.Cache, lg.Named("cache"))
	if err != nil {
		_ = m.queues.Close()
		return nil, fmt.Errorf("failed to init cache, %w", err)
	}
	if mc, ok := m.cache.(*mem_cache.MemCache); ok {
		m.registerMemCacheMetrics(mc)
	}
	return m, nil
}

func newCache(cfg *CacheConfig, lg *zap.Logger) (cache.Backend, error) {
	switch cfg.Type {
	case "", "mem":
		return mem_cache.NewMemCache(cfg.Size, time.Duration(cfg.CleanerInterval)*time.Second), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url, %w", err)
		}
		opt.MaxRetries = -1
		client := redis.NewClient(opt)
		rc, err := redis_cache.NewRedisCache(redis_cache.RedisCacheOpts{
			Client:        client,
			ClientCloser:  client,
			ClientTimeout: time.Duration(cfg.RedisTimeout) * time.Millisecond,
			Logger:        lg,
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return rc, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache type [%s]", cfg.Type)
	}
}

func (m *SharedList) registerMemCacheMetrics(mc *mem_cache.MemCache) {
	reg := m.GetMetricsReg()
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cache_hit_total",
			Help: "Number of memory cache hits",
		}, func() float64 { return float64(mc.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cache_miss_total",
			Help: "Number of memory cache misses",
		}, func() float64 { return float64(mc.Stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cache_size_current",
			Help: "Number of entries in the memory cache",
		}, func() float64 { return float64(mc.Len()) }),
	)
}

// Run starts the servers and blocks until the close signal.
func (m *SharedList) Run() error {
	defer close(m.done)
	defer m.closeResources()

	if err := m.start(); err != nil {
		m.sc.SendCloseSignal(err)
	}
	close(m.ready)

	<-m.sc.ReceiveCloseSignal()
	m.sc.Done()
	m.sc.CloseWait()
	return m.sc.Err()
}

func (m *SharedList) start() error {
	sCfg := &m.cfg.Server
	h, err := http_handler.NewHandler(http_handler.HandlerOpts{
		Queues:      m.queues,
		Cache:       m.cache,
		MaxBodySize: sCfg.MaxBodySize,
		MaxWait:     time.Duration(sCfg.MaxWait) * time.Second,
		Logger:      m.logger.Named("http_handler"),
	})
	if err != nil {
		return fmt.Errorf("failed to init http handler, %w", err)
	}

	if len(sCfg.ListenH3) > 0 && len(sCfg.Cert) == 0 {
		return errors.New("listen_h3 requires a certificate")
	}

	srv := server.NewServer(server.ServerOpts{
		Logger:        m.logger.Named("server"),
		HttpHandler:   h,
		Cert:          sCfg.Cert,
		Key:           sCfg.Key,
		IdleTimeout:   time.Duration(sCfg.IdleTimeout) * time.Second,
		ProxyProtocol: sCfg.ProxyProtocol,
	})
	m.sc.AttachCloser(srv)

	l, err := net.Listen("tcp", sCfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s, %w", sCfg.Listen, err)
	}
	m.addr = l.Addr()
	https := len(sCfg.Cert) > 0
	m.logger.Info("starting server",
		zap.Stringer("addr", m.addr),
		zap.Bool("https", https),
		zap.Bool("proxy_protocol", sCfg.ProxyProtocol),
	)
	if https {
		m.serve(func() error { return srv.ServeHTTPS(l) })
	} else {
		m.serve(func() error { return srv.ServeHTTP(l) })
	}

	if h3Addr := sCfg.ListenH3; len(h3Addr) > 0 {
		c, err := net.ListenPacket("udp", h3Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s, %w", h3Addr, err)
		}
		m.h3Addr = c.LocalAddr()
		m.logger.Info("starting http3 server", zap.Stringer("addr", m.h3Addr))
		m.serve(func() error { return srv.ServeHTTP3(c) })
	}

	if httpAddr := m.cfg.API.HTTP; len(httpAddr) > 0 {
		apiSrv := server.NewServer(server.ServerOpts{
			Logger:      m.logger.Named("api"),
			HttpHandler: m.httpAPIMux,
		})
		l, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s, %w", httpAddr, err)
		}
		m.apiAddr = l.Addr()
		m.logger.Info("starting api http server", zap.Stringer("addr", m.apiAddr))
		m.sc.AttachCloser(apiSrv)
		m.serve(func() error { return apiSrv.ServeHTTP(l) })
	}
	return nil
}

func (m *SharedList) serve(run func() error) {
	m.sc.Go(func(_ context.Context) error {
		if err := run(); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func (m *SharedList) closeResources() {
	if err := m.queues.Close(); err != nil {
		m.logger.Warn("failed to close queues", zap.Error(err))
	}
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			m.logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	_ = m.logger.Sync()
}

// Close stops a running SharedList and waits for Run to return.
// It must only be called after Run was started.
func (m *SharedList) Close() error {
	m.sc.SendCloseSignal(nil)
	<-m.done
	return nil
}

// Addr waits for Run to start listening and returns the server address.
// It is nil if Run failed to start.
func (m *SharedList) Addr() net.Addr {
	<-m.ready
	return m.addr
}

func (m *SharedList) GetSafeClose() *safe_close.SafeClose {
	return m.sc
}

func (m *SharedList) GetQueues() *registry.Registry {
	return m.queues
}

func (m *SharedList) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("sharedlist_", m.metricsReg)
}

func (m *SharedList) GetHTTPAPIMux() *http.ServeMux {
	return m.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
