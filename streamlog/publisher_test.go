package streamlog

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/fasthash/fnv1a"
	"github.com/stretchr/testify/assert"

	"github.com/latolukasz/changelog"
)

type testLogRecord struct {
	values map[string]interface{}
	saved  int
	err    error
}

func (r *testLogRecord) HasAttribute(name string) bool {
	return true
}

func (r *testLogRecord) SetAttributes(values map[string]interface{}) {
	r.values = values
}

func (r *testLogRecord) Save(_ context.Context) error {
	r.saved++
	return r.err
}

type testOrder struct{}

func (o *testOrder) TypeName() string {
	return "models.Order"
}

func (o *testOrder) Attributes() []string {
	return []string{"id"}
}

func (o *testOrder) HasAttribute(name string) bool {
	return name == "id"
}

func (o *testOrder) GetAttribute(name string) interface{} {
	return 7
}

func (o *testOrder) Relation(name string) (changelog.Relation, error) {
	return nil, &changelog.ConfigError{Message: "no relations"}
}

func TestStreams(t *testing.T) {
	publisher := NewPublisher(nil, Options{})
	assert.Equal(t, []string{DefaultStream}, publisher.Streams())
	assert.Equal(t, DefaultStream, publisher.StreamFor("models.Order"))

	publisher = NewPublisher(nil, Options{Stream: "audit", Shards: 4})
	assert.Equal(t, []string{"audit-0", "audit-1", "audit-2", "audit-3"}, publisher.Streams())
	expected := fnv1a.HashString32("models.Order") % 4
	assert.Equal(t, publisher.Streams()[expected], publisher.StreamFor("models.Order"))
	assert.Equal(t, publisher.StreamFor("models.Order"), publisher.StreamFor("models.Order"))
}

func TestRecordColumns(t *testing.T) {
	record := NewPublisher(nil, Options{}).NewRecord("models.Order")
	assert.True(t, record.HasAttribute("anything"))

	record = NewPublisher(nil, Options{Columns: []string{"action", "old_value", "new_value"}}).NewRecord("models.Order")
	assert.True(t, record.HasAttribute("action"))
	assert.False(t, record.HasAttribute("entity"))
}

func TestMessageEncoding(t *testing.T) {
	body, err := encodeMessage(&Message{Entity: "models.Order", Values: map[string]interface{}{"action": "create", "new_value": `{"name":"Pen"}`}, Added: 12})
	assert.NoError(t, err)
	message, err := decodeMessage(map[string]interface{}{payloadField: string(body), entityField: "models.Order"})
	assert.NoError(t, err)
	assert.Equal(t, "models.Order", message.Entity)
	assert.Equal(t, "create", message.Values["action"])
	assert.Equal(t, `{"name":"Pen"}`, message.Values["new_value"])

	_, err = decodeMessage(map[string]interface{}{entityField: "models.Order"})
	assert.EqualError(t, err, "stream entry without payload")
	_, err = decodeMessage(map[string]interface{}{payloadField: 12})
	assert.EqualError(t, err, "invalid stream payload type int")
}

func TestWriteTo(t *testing.T) {
	record := &testLogRecord{}
	handler := WriteTo(func() (changelog.LogRecord, error) {
		return record, nil
	})
	values := map[string]interface{}{"action": "delete"}
	assert.NoError(t, handler(context.Background(), &Message{Values: values}))
	assert.Equal(t, values, record.values)
	assert.Equal(t, 1, record.saved)

	record.err = errors.New("disk full")
	assert.EqualError(t, handler(context.Background(), &Message{Values: values}), "disk full")

	failing := WriteTo(func() (changelog.LogRecord, error) {
		return nil, errors.New("no table")
	})
	assert.EqualError(t, failing(context.Background(), &Message{}), "no table")
}

func testRedis(t *testing.T) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6382", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis is not available: %s", err)
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestPublishAndConsume(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	publisher := NewPublisher(client, Options{Stream: "audit", Shards: 2, MaxLen: 1000})
	recorder, err := changelog.New(&changelog.Options{LogModel: publisher.LogModel("models.Order")})
	assert.NoError(t, err)

	record := publisher.NewRecord("models.Order")
	record.SetAttributes(map[string]interface{}{"action": "create", "old_value": "{}", "new_value": `{"id":1}`})
	assert.NoError(t, record.Save(ctx))
	assert.NotEmpty(t, record.ID())
	state, err := recorder.AfterFind(ctx, &testOrder{})
	assert.NoError(t, err)
	assert.NoError(t, recorder.AfterDelete(ctx, &testOrder{}, state))

	target := &testLogRecord{}
	var stored []map[string]interface{}
	handler := func(ctx context.Context, message *Message) error {
		stored = append(stored, message.Values)
		return WriteTo(func() (changelog.LogRecord, error) { return target, nil })(ctx, message)
	}
	consumer := NewConsumer(client, publisher.Streams(), "")
	consumer.SetBlockTime(0)
	count, err := consumer.Consume(ctx, 100, handler)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "create", stored[0]["action"])
	assert.Equal(t, "delete", stored[1]["action"])
	assert.Equal(t, `{"id":7}`, stored[1]["old_value"])
	assert.Equal(t, 2, target.saved)

	count, err = consumer.Consume(ctx, 100, handler)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), client.XLen(ctx, publisher.StreamFor("models.Order")).Val())
}

func TestConsumerLock(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	first := NewConsumer(client, []string{"audit"}, "writers")
	mutex, err := first.lock(ctx)
	assert.NoError(t, err)
	defer first.unlock(mutex)

	second := NewConsumer(client, []string{"audit"}, "writers")
	_, err = second.Consume(ctx, 10, func(ctx context.Context, message *Message) error {
		return nil
	})
	assert.Equal(t, ErrLocked, err)
}

func TestConsumerKeepsFailedMessagesPending(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	publisher := NewPublisher(client, Options{Stream: "audit"})
	record := publisher.NewRecord("models.Order")
	record.SetAttributes(map[string]interface{}{"action": "update"})
	assert.NoError(t, record.Save(ctx))

	consumer := NewConsumer(client, publisher.Streams(), "writers")
	consumer.SetBlockTime(0)
	count, err := consumer.Consume(ctx, 10, func(ctx context.Context, message *Message) error {
		return errors.New("database is down")
	})
	assert.EqualError(t, err, "database is down")
	assert.Equal(t, 0, count)

	runCtx, cancel := context.WithCancel(ctx)
	var actions []interface{}
	err = consumer.Run(runCtx, 10, func(ctx context.Context, message *Message) error {
		actions = append(actions, message.Values["action"])
		cancel()
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"update"}, actions)
}

type testRedisLogger struct {
	reads int
}

func (l *testRedisLogger) Handle(_ context.Context, log map[string]interface{}) {
	if log["operation"] == "XREADGROUP" {
		l.reads++
	}
}

func TestRunBlockTime(t *testing.T) {
	consumer := &Consumer{lockTTL: time.Second * 90, blockTime: time.Second * 30}
	assert.Equal(t, time.Second*30, consumer.runBlockTime())
	consumer.SetBlockTime(time.Minute)
	assert.Equal(t, time.Second*30, consumer.runBlockTime())
	consumer.SetLockTTL(time.Second * 3)
	assert.Equal(t, time.Second, consumer.runBlockTime())
	consumer.SetBlockTime(0)
	assert.Equal(t, time.Duration(0), consumer.runBlockTime())
}

func TestRunWithoutBlockingWaitsBetweenReads(t *testing.T) {
	client := testRedis(t)
	consumer := NewConsumer(client, []string{"audit"}, "writers")
	consumer.SetBlockTime(0)
	logger := &testRedisLogger{}
	consumer.RegisterLogger(logger)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
	defer cancel()
	err := consumer.Run(ctx, 10, func(ctx context.Context, message *Message) error {
		return nil
	})
	assert.NoError(t, err)
	assert.LessOrEqual(t, logger.reads, 5)
}
