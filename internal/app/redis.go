package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"haulpay/internal/config"
)

// NewRedisClient creates the client behind the tracking stores, with optional New Relic instrumentation.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if nrApp != nil {
		client.AddHook(nrRedisHook{})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// nrRedisHook records Redis commands as datastore segments of the request's
// New Relic transaction, grouped by key namespace.
type nrRedisHook struct{}

func (nrRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (nrRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		defer startSegment(ctx, cmd.Name(), keyNamespace(cmd))()
		return next(ctx, cmd)
	}
}

func (nrRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		collection := "redis"
		if len(cmds) > 0 {
			collection = keyNamespace(cmds[0])
		}
		defer startSegment(ctx, "pipeline", collection)()
		return next(ctx, cmds)
	}
}

// startSegment starts a datastore segment and returns the func that ends it.
func startSegment(ctx context.Context, op, collection string) func() {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return func() {}
	}
	segment := newrelic.DatastoreSegment{
		StartTime:  txn.StartSegmentNow(),
		Product:    newrelic.DatastoreRedis,
		Operation:  op,
		Collection: collection,
	}
	return segment.End
}

// keyNamespace is the first colon separated part of the command's key,
// e.g. "segment" for segment:snapshot:<trip>. Scripts are named by their first key.
func keyNamespace(cmd redis.Cmder) string {
	args := cmd.Args()
	keyAt := 1
	switch strings.ToLower(cmd.Name()) {
	case "eval", "evalsha", "evalsha_ro", "eval_ro":
		keyAt = 3
	}
	if len(args) <= keyAt {
		return "redis"
	}
	key, ok := args[keyAt].(string)
	if !ok || key == "" {
		return "redis"
	}
	ns, _, _ := strings.Cut(key, ":")
	return ns
}
