package streamlog

import (
	"context"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/latolukasz/changelog"
)

// idleWait is the pause between empty non-blocking reads in Run.
const idleWait = time.Millisecond * 200

// ErrLocked is returned by Consume when another consumer of the same group is running.
var ErrLocked = errors.New("change log consumer is already running")

// Handler stores one message. Messages are acknowledged only when it returns nil.
type Handler func(ctx context.Context, message *Message) error

// WriteTo creates a record with model for every message and saves it.
func WriteTo(model changelog.LogModel) Handler {
	return func(ctx context.Context, message *Message) error {
		record, err := model()
		if err != nil {
			return err
		}
		record.SetAttributes(message.Values)
		return record.Save(ctx)
	}
}

type Consumer struct {
	client    redis.UniversalClient
	locker    *redsync.Redsync
	streams   []string
	group     string
	name      string
	lockTTL   time.Duration
	blockTime time.Duration
	loggers   []changelog.LogHandler
}

func NewConsumer(client redis.UniversalClient, streams []string, group string) *Consumer {
	if group == "" {
		group = DefaultGroup
	}
	return &Consumer{
		client:    client,
		locker:    redsync.New(goredis.NewPool(client)),
		streams:   streams,
		group:     group,
		name:      "consumer-1",
		lockTTL:   time.Second * 90,
		blockTime: time.Second * 30,
	}
}

// SetBlockTime sets how long Run waits for new messages. Zero disables blocking, Run then
// pauses shortly after every empty read. Run never blocks longer than a third of lock TTL.
func (c *Consumer) SetBlockTime(blockTime time.Duration) {
	c.blockTime = blockTime
}

func (c *Consumer) SetLockTTL(ttl time.Duration) {
	c.lockTTL = ttl
}

func (c *Consumer) RegisterLogger(handler changelog.LogHandler) {
	c.loggers = append(c.loggers, handler)
}

// Consume reads at most count new messages without blocking and passes them to handler.
// It returns number of stored messages.
func (c *Consumer) Consume(ctx context.Context, count int, handler Handler) (int, error) {
	mutex, err := c.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer c.unlock(mutex)
	err = c.createGroups(ctx)
	if err != nil {
		return 0, err
	}
	stored, _, err := c.digest(ctx, count, 0, handler)
	return stored, err
}

// Run consumes messages until ctx is cancelled or handler fails. Pending messages of
// previous runs are handled first.
func (c *Consumer) Run(ctx context.Context, count int, handler Handler) error {
	mutex, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer c.unlock(mutex)
	err = c.createGroups(ctx)
	if err != nil {
		return err
	}
	_, err = c.pending(ctx, count, handler)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	refreshEvery := c.lockTTL / 3
	refreshed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if time.Since(refreshed) >= refreshEvery {
			extended, err := mutex.ExtendContext(ctx)
			if err != nil || !extended {
				return errors.Wrap(ErrLocked, "lock lost")
			}
			refreshed = time.Now()
		}
		block := c.runBlockTime()
		_, read, err := c.digest(ctx, count, block, handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if read == 0 && block <= 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleWait):
			}
		}
	}
}

// runBlockTime keeps blocking reads shorter than the lock refresh interval.
func (c *Consumer) runBlockTime() time.Duration {
	limit := c.lockTTL / 3
	if c.blockTime > limit {
		return limit
	}
	return c.blockTime
}

func (c *Consumer) lock(ctx context.Context) (*redsync.Mutex, error) {
	mutex := c.locker.NewMutex("changelog-lock:"+c.group, redsync.WithExpiry(c.lockTTL), redsync.WithTries(1))
	err := mutex.LockContext(ctx)
	if err != nil {
		var taken *redsync.ErrTaken
		if err == redsync.ErrFailed || errors.As(err, &taken) {
			return nil, ErrLocked
		}
		return nil, errors.Wrap(err, "obtaining consumer lock")
	}
	return mutex, nil
}

func (c *Consumer) unlock(mutex *redsync.Mutex) {
	_, _ = mutex.UnlockContext(context.Background())
}

func (c *Consumer) createGroups(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return errors.Wrapf(err, "creating group %s for %s", c.group, stream)
		}
	}
	return nil
}

// pending handles messages read earlier by this consumer but never acknowledged.
func (c *Consumer) pending(ctx context.Context, count int, handler Handler) (int, error) {
	lastIDs := make([]string, len(c.streams))
	for i := range lastIDs {
		lastIDs[i] = "0"
	}
	total := 0
	for {
		streams := append(append([]string(nil), c.streams...), lastIDs...)
		results, err := c.read(ctx, streams, count, 0)
		if err != nil {
			return total, err
		}
		read := 0
		for _, row := range results {
			if len(row.Messages) == 0 {
				continue
			}
			read += len(row.Messages)
			for i, stream := range c.streams {
				if stream == row.Stream {
					lastIDs[i] = row.Messages[len(row.Messages)-1].ID
				}
			}
		}
		if read == 0 {
			return total, nil
		}
		stored, err := c.handle(ctx, results, handler)
		total += stored
		if err != nil {
			return total, err
		}
	}
}

func (c *Consumer) digest(ctx context.Context, count int, block time.Duration, handler Handler) (int, int, error) {
	streams := make([]string, len(c.streams)*2)
	copy(streams, c.streams)
	for i := range c.streams {
		streams[len(c.streams)+i] = ">"
	}
	results, err := c.read(ctx, streams, count, block)
	if err != nil {
		return 0, 0, err
	}
	read := 0
	for _, row := range results {
		read += len(row.Messages)
	}
	stored, err := c.handle(ctx, results, handler)
	return stored, read, err
}

func (c *Consumer) read(ctx context.Context, streams []string, count int, block time.Duration) ([]redis.XStream, error) {
	if block <= 0 {
		block = -1
	} else if block < time.Millisecond {
		// BLOCK 0 waits forever
		block = time.Millisecond
	}
	args := &redis.XReadGroupArgs{Group: c.group, Consumer: c.name, Streams: streams, Count: int64(count), Block: block}
	start := time.Now()
	results, err := c.client.XReadGroup(ctx, args).Result()
	if err == redis.Nil {
		results, err = nil, nil
	}
	c.log(ctx, "XREADGROUP", strings.Join(streams, " "), start, err)
	return results, err
}

func (c *Consumer) handle(ctx context.Context, results []redis.XStream, handler Handler) (int, error) {
	stored := 0
	for _, row := range results {
		for _, entry := range row.Messages {
			message, err := decodeMessage(entry.Values)
			if err != nil {
				return stored, errors.Wrapf(err, "stream %s entry %s", row.Stream, entry.ID)
			}
			err = handler(ctx, message)
			if err != nil {
				return stored, err
			}
			start := time.Now()
			_, err = c.client.XAck(ctx, row.Stream, c.group, entry.ID).Result()
			if err == nil {
				_, err = c.client.XDel(ctx, row.Stream, entry.ID).Result()
			}
			c.log(ctx, "XACK", row.Stream+" "+entry.ID, start, err)
			if err != nil {
				return stored, err
			}
			stored++
		}
	}
	return stored, nil
}

func (c *Consumer) log(ctx context.Context, operation, query string, start time.Time, err error) {
	if len(c.loggers) == 0 {
		return
	}
	fields := map[string]interface{}{
		"operation":    operation,
		"query":        query,
		"source":       "redis",
		"microseconds": time.Since(start).Microseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	for _, handler := range c.loggers {
		handler.Handle(ctx, fields)
	}
}
