package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/unkn0wn-root/picksync"
	"github.com/unkn0wn-root/picksync/codec"
	asynchook "github.com/unkn0wn-root/picksync/hooks/async"
	"github.com/unkn0wn-root/picksync/persist"
	"github.com/unkn0wn-root/picksync/provider"
	"github.com/unkn0wn-root/picksync/provider/bigcache"
	"github.com/unkn0wn-root/picksync/provider/memory"
	"github.com/unkn0wn-root/picksync/provider/redis"
	"github.com/unkn0wn-root/picksync/provider/ristretto"
	"github.com/unkn0wn-root/picksync/sloghooks"
	"github.com/unkn0wn-root/picksync/source/breaker"
	"github.com/unkn0wn-root/picksync/source/mongosource"
)

// app is everything one command needs, built from config and torn down by Close.
type app struct {
	log     picksync.Logger
	flush   func()
	hooks   *asynchook.Hooks
	client  *mongo.Client
	breaker *breaker.Source
	cache   picksync.Cache
}

func newApp(ctx context.Context, cfg config) (a *app, err error) {
	log, slogger, flush, err := newLogger(cfg.Logger, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a = &app{log: log, flush: flush}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.hooks = asynchook.New(sloghooks.New(slogger, sloghooks.Options{DuplicateEvery: 10}), 1, 1024)

	a.client, err = mongosource.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	mongoSrc := mongosource.New(a.client.Database(cfg.Database))
	if err := mongoSrc.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	var src picksync.DataSource = mongoSrc
	if cfg.Breaker {
		a.breaker = breaker.New(mongoSrc, breaker.Config{Name: cfg.Namespace, Logger: log})
		src = a.breaker
	}

	var persister picksync.Persister
	prov, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if prov != nil {
		p, err := newPersister(ctx, cfg, prov, log, a.hooks)
		if err != nil {
			_ = prov.Close(ctx)
			return nil, err
		}
		persister = p
	}

	a.cache, err = picksync.New(picksync.Options{
		Source:     src,
		Logger:     log,
		Hooks:      a.hooks,
		Persister:  persister,
		DefaultTTL: cfg.TTL,
		ChunkSize:  cfg.ChunkSize,
	})
	if err != nil {
		if persister != nil {
			_ = persister.Close(ctx)
		}
		return nil, err
	}
	if persister != nil {
		n, err := a.cache.Warm(ctx)
		if err != nil {
			log.Warn("warm: some snapshots unreadable", picksync.Fields{"err": err})
		}
		log.Debug("warm", picksync.Fields{"entries": n})
	}
	return a, nil
}

// newProvider returns nil for --persist=none.
func newProvider(ctx context.Context, cfg config) (provider.Provider, error) {
	switch cfg.Persist {
	case "none":
		return nil, nil
	case "memory":
		return memory.New(nil), nil
	case "ristretto":
		return ristretto.New(ristretto.Config{})
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{})
	case "redis":
		rp, err := redis.New(redis.Config{
			Client:      goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}),
			Prefix:      cfg.Namespace + ":",
			CloseClient: true,
		})
		if err != nil {
			return nil, err
		}
		if err := rp.Ping(ctx); err != nil {
			_ = rp.Close(ctx)
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return rp, nil
	default:
		return nil, fmt.Errorf("unknown persist provider %q", cfg.Persist)
	}
}

func newPersister(ctx context.Context, cfg config, prov provider.Provider, log picksync.Logger, hooks picksync.Hooks) (*persist.Persister, error) {
	f, err := codec.ParseFormat(cfg.Codec)
	if err != nil {
		return nil, err
	}
	codecs, err := persist.NewCodecs(f, 0)
	if err != nil {
		return nil, err
	}
	return persist.New(ctx, persist.Options{
		Provider:  prov,
		Namespace: cfg.Namespace,
		Codecs:    &codecs,
		Logger:    log,
		Hooks:     hooks,
	})
}

// Close closes the cache (and with it the persister), then the hooks and
// the mongo client.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close(ctx))
	}
	if a.hooks != nil {
		a.hooks.Close()
	}
	if a.client != nil {
		errs = append(errs, a.client.Disconnect(ctx))
	}
	if a.flush != nil {
		a.flush()
	}
	return errors.Join(errs...)
}
