package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pisa-watch/pisa/internal/blockitemstore"
)

// blockItemKey builds the Redis key for a (namespace, key) pair, mirroring
// the teacher's "<prefix>:<kind>:<id>" convention (chainstreamCheckpointKey,
// walletwatchIdempotencyKey).
func blockItemKey(namespace, key string) string {
	return fmt.Sprintf("blockitem:%s:%s", namespace, key)
}

// Get implements blockitemstore.Store.
func (c *client) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	val, err := c.conn.Get(ctx, blockItemKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, blockitemstore.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Delete implements blockitemstore.Store.
func (c *client) Delete(ctx context.Context, namespace, key string) error {
	return c.conn.Del(ctx, blockItemKey(namespace, key)).Err()
}

// NewBatch implements blockitemstore.Store.
func (c *client) NewBatch() blockitemstore.Batch {
	return &blockItemBatch{client: c}
}

type blockItemWrite struct {
	key    string
	value  []byte
	delete bool
}

// blockItemBatch buffers writes for an atomic Redis transaction (MULTI/EXEC
// via TxPipelined), matching blockitemstore.Batch's "applies every staged
// write atomically" contract.
type blockItemBatch struct {
	client *client
	writes []blockItemWrite
}

var _ blockitemstore.Batch = (*blockItemBatch)(nil)

func (b *blockItemBatch) Put(namespace, key string, value []byte) {
	b.writes = append(b.writes, blockItemWrite{key: blockItemKey(namespace, key), value: value})
}

func (b *blockItemBatch) Delete(namespace, key string) {
	b.writes = append(b.writes, blockItemWrite{key: blockItemKey(namespace, key), delete: true})
}

func (b *blockItemBatch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}

	_, err := b.client.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range b.writes {
			if w.delete {
				pipe.Del(ctx, w.key)
				continue
			}
			pipe.Set(ctx, w.key, w.value, 0)
		}
		return nil
	})
	return err
}

var _ blockitemstore.Store = (*client)(nil)
