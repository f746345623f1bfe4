// Package persist mirrors cache entries into a provider.Provider so a
// restarted process can warm its cache (picksync.Cache.Warm).
//
// Writes are behind: the store hands Save/Delete to a bounded queue and never
// waits on the provider. Ops for one key are served by one worker, in order.
// DeleteAll moves the namespace to a new epoch instead of enumerating keys;
// entries of old epochs are never read again and age out by TTL.
//
// Storage keys:
//
//	entry:<ns>:<epoch>:<key>   one framed snapshot (internal/wire)
//	epoch:<ns>                 current epoch
//
// The epoch is read once, at New. Processes sharing a provider see another
// process's DeleteAll only after a restart.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/picksync"
	"github.com/unkn0wn-root/picksync/codec"
	"github.com/unkn0wn-root/picksync/internal/wire"
	"github.com/unkn0wn-root/picksync/provider"
)

var ErrNilProvider = errors.New("persist: provider is required")

type Options struct {
	Provider  provider.Provider // required
	Namespace string            // "" => "picksync"
	Codecs    *Codecs           // nil => JSON

	TTL        time.Duration // provider TTL cap for snapshots; 0 => 24h
	Workers    int           // 0 => 2
	QueueLen   int           // per worker; 0 => 1024
	OpTimeout  time.Duration // per provider call from a worker; 0 => 2s
	MaxPayload int           // decode cap in bytes; 0 => 8 MiB

	Logger picksync.Logger
	Hooks  picksync.Hooks
}

type opKind uint8

const (
	opSave opKind = iota + 1
	opDelete
	opEpoch
	opBarrier
)

type op struct {
	kind  opKind
	key   picksync.Key
	entry picksync.Entry
	epoch uint64
	done  chan struct{} // opBarrier
}

// flushRetry paces Flush while a queue is full.
const flushRetry = 5 * time.Millisecond

type Persister struct {
	p      provider.Provider
	ns     string
	codecs Codecs
	ttl    time.Duration
	opTO   time.Duration
	log    picksync.Logger
	hooks  picksync.Hooks

	epoch atomic.Uint64

	mu     sync.RWMutex // guards queues against send-after-close
	closed bool
	queues []chan op
	wg     sync.WaitGroup
}

var _ picksync.Persister = (*Persister)(nil)

// New reads the namespace epoch from the provider and starts the workers.
func New(ctx context.Context, opts Options) (*Persister, error) {
	if opts.Provider == nil {
		return nil, ErrNilProvider
	}
	if opts.Namespace == "" {
		opts.Namespace = "picksync"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueLen <= 0 {
		opts.QueueLen = 1024
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = 8 << 20
	}
	if opts.Logger == nil {
		opts.Logger = picksync.NopLogger{}
	}
	if opts.Hooks == nil {
		opts.Hooks = picksync.NopHooks{}
	}
	if opts.Codecs == nil {
		c, err := NewCodecs(codec.FormatJSON, opts.MaxPayload)
		if err != nil {
			return nil, err
		}
		opts.Codecs = &c
	}

	p := &Persister{
		p:      opts.Provider,
		ns:     opts.Namespace,
		codecs: *opts.Codecs,
		ttl:    opts.TTL,
		opTO:   opts.OpTimeout,
		log:    opts.Logger,
		hooks:  opts.Hooks,
	}
	if err := p.loadEpoch(ctx); err != nil {
		return nil, err
	}

	p.queues = make([]chan op, opts.Workers)
	for i := range p.queues {
		p.queues[i] = make(chan op, opts.QueueLen)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}
	return p, nil
}

func (p *Persister) epochKey() string { return "epoch:" + p.ns }

func (p *Persister) entryKey(epoch uint64, k picksync.Key) string {
	return "entry:" + p.ns + ":" + strconv.FormatUint(epoch, 10) + ":" + k.String()
}

func (p *Persister) loadEpoch(ctx context.Context) error {
	b, ok, err := p.p.Get(ctx, p.epochKey())
	if err != nil {
		return fmt.Errorf("persist: read epoch: %w", err)
	}
	if !ok {
		return nil
	}
	e, err := wire.DecodeEpoch(b)
	if err != nil {
		// unreadable epoch: start over in a fresh one past anything plausible
		p.log.Warn("persist: corrupt epoch; resetting namespace", picksync.Fields{"ns": p.ns})
		e = uint64(time.Now().UnixNano())
	}
	p.epoch.Store(e)
	return nil
}

// Epoch returns the current namespace epoch.
func (p *Persister) Epoch() uint64 { return p.epoch.Load() }

func (p *Persister) Save(k picksync.Key, e picksync.Entry) {
	p.enqueue(op{kind: opSave, key: k, entry: e, epoch: p.epoch.Load()})
}

func (p *Persister) Delete(k picksync.Key) {
	p.enqueue(op{kind: opDelete, key: k, epoch: p.epoch.Load()})
}

// DeleteAll orphans every snapshot by moving to the next epoch.
func (p *Persister) DeleteAll() {
	next := p.epoch.Add(1)
	p.enqueue(op{kind: opEpoch, epoch: next})
}

func (p *Persister) shard(o op) chan op {
	if o.kind == opEpoch {
		return p.queues[0]
	}
	return p.queues[xxhash.Sum64String(o.key.String())%uint64(len(p.queues))]
}

func (p *Persister) enqueue(o op) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.shard(o) <- o:
	default:
		p.log.Warn("persist: queue full; op dropped", picksync.Fields{"key": o.key.String()})
		p.hooks.PersistDropped(o.key.String())
	}
}

func (p *Persister) worker(q <-chan op) {
	defer p.wg.Done()
	for o := range q {
		if o.kind == opBarrier {
			close(o.done)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.opTO)
		err := p.apply(ctx, o)
		cancel()
		if err != nil {
			p.log.Warn("persist: op failed", picksync.Fields{"key": o.key.String(), "err": err})
			p.hooks.PersistFailed(o.key.String(), err)
		}
	}
}

func (p *Persister) apply(ctx context.Context, o op) error {
	switch o.kind {
	case opSave:
		payload, err := p.codecs.encode(o.entry.Value)
		if err != nil {
			return err
		}
		frame := wire.EncodeEntry(wire.Frame{
			Kind:      byte(o.key.Kind),
			Format:    string(p.codecs.Format),
			UpdatedAt: o.entry.UpdatedAt,
			TTL:       o.entry.TTL,
			Payload:   payload,
		})
		ttl := p.ttl
		if o.entry.TTL > 0 && o.entry.TTL < ttl {
			ttl = o.entry.TTL
		}
		ok, err := p.p.Set(ctx, p.entryKey(o.epoch, o.key), frame, int64(len(frame)), ttl)
		if err != nil {
			return err
		}
		if !ok {
			p.log.Debug("persist: provider rejected snapshot", picksync.Fields{"key": o.key.String()})
		}
		return nil
	case opDelete:
		return p.p.Del(ctx, p.entryKey(o.epoch, o.key))
	case opEpoch:
		_, err := p.p.Set(ctx, p.epochKey(), wire.EncodeEpoch(o.epoch), 0, 0)
		return err
	default:
		return fmt.Errorf("persist: unknown op %d", o.kind)
	}
}

// Load reads the snapshot of k from the current epoch. Corrupt or foreign
// snapshots are deleted and reported as misses.
func (p *Persister) Load(ctx context.Context, k picksync.Key) (picksync.Entry, bool, error) {
	skey := p.entryKey(p.epoch.Load(), k)
	b, ok, err := p.p.Get(ctx, skey)
	if err != nil || !ok {
		return picksync.Entry{}, false, err
	}

	f, err := wire.DecodeEntry(b)
	if err == nil && (f.Kind != byte(k.Kind) || f.Format != string(p.codecs.Format)) {
		err = fmt.Errorf("snapshot is %s/kind %d, want %s/%s", f.Format, f.Kind, p.codecs.Format, k.Kind)
	}
	var v picksync.Value
	if err == nil {
		v, err = p.codecs.decode(k.Kind, f.Payload)
	}
	if err != nil {
		// self-heal
		p.log.Warn("persist: dropping unreadable snapshot", picksync.Fields{"key": k.String(), "err": err})
		_ = p.p.Del(ctx, skey)
		return picksync.Entry{}, false, nil
	}
	return picksync.Entry{Value: v, UpdatedAt: f.UpdatedAt, TTL: f.TTL}, true, nil
}

// Flush waits until every op queued before the call has been applied. A
// full queue is retried without holding the lock, so Close is never blocked
// behind a Flush; after Close, Flush returns nil because Close drains.
func (p *Persister) Flush(ctx context.Context) error {
	dones := make([]chan struct{}, 0, len(p.queues))
	for _, q := range p.queues {
		d := make(chan struct{})
		for {
			sent, closed := p.offer(q, op{kind: opBarrier, done: d})
			if closed {
				return nil
			}
			if sent {
				break
			}
			select {
			case <-time.After(flushRetry):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		dones = append(dones, d)
	}

	for _, d := range dones {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// offer tries a non-blocking send of o to q.
func (p *Persister) offer(q chan op, o op) (sent, closed bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, true
	}
	select {
	case q <- o:
		return true, false
	default:
		return false, false
	}
}

// Close drains the queues, then closes the provider.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.p.Close(ctx)
}
