// Package registry keeps named queues of raw JSON items and exports their
// sizes and traffic as prometheus metrics.
package registry

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/sharedlist/pkg/queue"
)

var (
	ErrInvalidName = errors.New("invalid queue name")
	ErrNotFound    = errors.New("queue not found")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

var nopLogger = zap.NewNop()

type Opts struct {
	// DefaultMaxLen applies to queues without an entry in MaxLen.
	// <= 0 means unbounded.
	DefaultMaxLen int

	// MaxLen overrides DefaultMaxLen per queue name.
	MaxLen map[string]int

	// Registerer receives the registry metrics. Optional.
	Registerer prometheus.Registerer

	Logger *zap.Logger
}

func (opts *Opts) init() {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

type Registry struct {
	opts Opts

	m      sync.RWMutex
	queues map[string]*queue.Queue[json.RawMessage]

	items  *prometheus.GaugeVec
	pushes *prometheus.CounterVec
	pops   *prometheus.CounterVec
}

func New(opts Opts) (*Registry, error) {
	opts.init()
	r := &Registry{
		opts:   opts,
		queues: make(map[string]*queue.Queue[json.RawMessage]),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_items",
			Help: "Number of items currently queued",
		}, []string{"queue"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_push_total",
			Help: "Number of items pushed",
		}, []string{"queue", "end"}),
		pops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_pop_total",
			Help: "Number of items popped",
		}, []string{"queue", "end"}),
	}

	if reg := opts.Registerer; reg != nil {
		for _, c := range []prometheus.Collector{r.items, r.pushes, r.pops} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Get returns the queue called name, creating it if needed.
func (r *Registry) Get(name string) (*queue.Queue[json.RawMessage], error) {
	if !nameRe.MatchString(name) {
		return nil, ErrInvalidName
	}

	r.m.RLock()
	q, ok := r.queues[name]
	r.m.RUnlock()
	if ok {
		return q, nil
	}

	r.m.Lock()
	defer r.m.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}

	maxLen := r.opts.DefaultMaxLen
	if n, ok := r.opts.MaxLen[name]; ok {
		maxLen = n
	}
	q = queue.New[json.RawMessage](maxLen)
	r.queues[name] = q
	r.items.WithLabelValues(name).Set(0)
	r.opts.Logger.Info("queue created", zap.String("queue", name), zap.Int("max_len", maxLen))
	return q, nil
}

// Lookup returns an existing queue without creating one.
func (r *Registry) Lookup(name string) (*queue.Queue[json.RawMessage], error) {
	r.m.RLock()
	defer r.m.RUnlock()
	q, ok := r.queues[name]
	if !ok {
		return nil, ErrNotFound
	}
	return q, nil
}

func (r *Registry) Names() []string {
	r.m.RLock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	r.m.RUnlock()
	sort.Strings(names)
	return names
}

// Delete closes and forgets the queue. Blocked consumers get
// queue.ErrClosed.
func (r *Registry) Delete(name string) error {
	r.m.Lock()
	q, ok := r.queues[name]
	delete(r.queues, name)
	r.m.Unlock()
	if !ok {
		return ErrNotFound
	}

	r.items.DeleteLabelValues(name)
	r.opts.Logger.Info("queue deleted", zap.String("queue", name), zap.Int("dropped", q.Len()))
	return q.Close()
}

// Close closes every queue.
func (r *Registry) Close() error {
	r.m.Lock()
	defer r.m.Unlock()
	for _, q := range r.queues {
		_ = q.Close()
	}
	return nil
}

// Pushed and Popped record traffic for metrics. end is "front" or "back".
func (r *Registry) Pushed(name, end string) {
	r.pushes.WithLabelValues(name, end).Inc()
	r.refresh(name)
}

func (r *Registry) Popped(name, end string) {
	r.pops.WithLabelValues(name, end).Inc()
	r.refresh(name)
}

// Removed refreshes the size gauge after a bulk removal.
func (r *Registry) Removed(name string) {
	r.refresh(name)
}

func (r *Registry) refresh(name string) {
	r.m.RLock()
	q, ok := r.queues[name]
	r.m.RUnlock()
	if ok {
		r.items.WithLabelValues(name).Set(float64(q.Len()))
	}
}
