package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

type PoolConfig struct {
	BinaryPath string
	// Capacity caps running engines per distinct Options; <= 0 picks a CPU-based default.
	Capacity int
}

// Pool keeps idle engines per Options so a difficulty never inherits another's settings.
type Pool struct {
	binaryPath string
	capacity   int

	mu      sync.Mutex
	buckets map[string]*bucket
	owner   map[*Engine]*bucket
	closed  bool
}

var (
	errAtCapacity = errors.New("engine bucket at capacity")
	ErrPoolClosed = errors.New("engine pool closed")
)

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		capacity:   capacity,
		buckets:    make(map[string]*bucket),
		owner:      make(map[*Engine]*bucket),
	}, nil
}

// Acquire returns an idle engine configured with opt, starting one when under capacity and
// otherwise waiting for a release.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Engine, error) {
	b, err := p.bucketFor(opt)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case e := <-b.idle:
			if p.usable(ctx, e, b) {
				return e, nil
			}
			continue
		default:
		}

		e, err := b.start(ctx, p.binaryPath)
		if err == nil {
			p.track(e, b)
			obslog.L().Debug("uci_engine_started", zap.String("options", b.opt.key()))
			return e, nil
		}
		if !errors.Is(err, errAtCapacity) {
			return nil, err
		}

		select {
		case e := <-b.idle:
			if p.usable(ctx, e, b) {
				return e, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) usable(ctx context.Context, e *Engine, b *bucket) bool {
	if e == nil {
		return false
	}
	if err := e.Ready(ctx); err != nil {
		obslog.L().Warn("uci_engine_unready", zap.Error(err))
		b.drop(e)
		return false
	}
	p.track(e, b)
	return true
}

// Release returns e to its bucket. A non-nil err means the engine is suspect and is stopped instead.
func (p *Pool) Release(e *Engine, err error) {
	if e == nil {
		return
	}
	p.mu.Lock()
	b, ok := p.owner[e]
	delete(p.owner, e)
	closed := p.closed
	p.mu.Unlock()
	if !ok {
		_ = e.Close()
		return
	}
	if err != nil || closed || !b.put(e) {
		b.drop(e)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.drain()
	}
	return nil
}

func (p *Pool) bucketFor(opt Options) (*bucket, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	key := opt.key()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{opt: opt, capacity: p.capacity, idle: make(chan *Engine, p.capacity)}
		p.buckets[key] = b
	}
	return b, nil
}

func (p *Pool) track(e *Engine, b *bucket) {
	p.mu.Lock()
	p.owner[e] = b
	p.mu.Unlock()
}

type bucket struct {
	opt      Options
	capacity int

	mu    sync.Mutex
	total int
	idle  chan *Engine
}

func (b *bucket) start(ctx context.Context, path string) (*Engine, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errAtCapacity
	}
	b.total++
	b.mu.Unlock()

	e, err := Start(ctx, path, b.opt)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return e, nil
}

func (b *bucket) put(e *Engine) bool {
	select {
	case b.idle <- e:
		return true
	default:
		return false
	}
}

func (b *bucket) drop(e *Engine) {
	_ = e.Close()
	b.decrement()
}

func (b *bucket) drain() {
	for {
		select {
		case e := <-b.idle:
			if e != nil {
				b.drop(e)
			}
		default:
			return
		}
	}
}

func (b *bucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func defaultCapacity() int {
	return min(max(runtime.NumCPU(), 2), 4)
}
