package streamlog

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/fasthash/fnv1a"
	"github.com/shamaton/msgpack"

	"github.com/latolukasz/changelog"
)

const (
	DefaultStream = "changelog"
	DefaultGroup  = "changelog-writers"
	payloadField  = "s"
	entityField   = "e"
)

type Options struct {
	// Stream is the base stream name. With Shards > 1 records are published to
	// Stream-0 .. Stream-(Shards-1), picked by entity type.
	Stream string
	Shards int
	// MaxLen trims streams approximately, zero keeps all entries.
	MaxLen int64
	// Columns limits attributes accepted by published records, empty accepts all.
	Columns []string
}

// Message is one log record carried by a stream.
type Message struct {
	Entity string
	Values map[string]interface{}
	Added  int64
}

// Publisher writes log records to redis streams instead of a log table, a Consumer
// moves them to the final storage.
type Publisher struct {
	client  redis.UniversalClient
	stream  string
	shards  int
	maxLen  int64
	columns map[string]bool
}

func NewPublisher(client redis.UniversalClient, options Options) *Publisher {
	p := &Publisher{client: client, stream: options.Stream, shards: options.Shards, maxLen: options.MaxLen}
	if p.stream == "" {
		p.stream = DefaultStream
	}
	if p.shards < 1 {
		p.shards = 1
	}
	if len(options.Columns) > 0 {
		p.columns = make(map[string]bool, len(options.Columns))
		for _, column := range options.Columns {
			p.columns[column] = true
		}
	}
	return p
}

// Streams returns names of all streams records can be published to.
func (p *Publisher) Streams() []string {
	if p.shards == 1 {
		return []string{p.stream}
	}
	streams := make([]string, p.shards)
	for i := range streams {
		streams[i] = p.stream + "-" + strconv.Itoa(i)
	}
	return streams
}

// StreamFor returns stream used by records of entity type. Records of one type always
// share a stream so their order is kept.
func (p *Publisher) StreamFor(entity string) string {
	if p.shards == 1 {
		return p.stream
	}
	return p.stream + "-" + strconv.FormatUint(uint64(fnv1a.HashString32(entity)%uint32(p.shards)), 10)
}

// LogModel creates records published to the stream of entity type.
func (p *Publisher) LogModel(entity string) changelog.LogModel {
	return func() (changelog.LogRecord, error) {
		return p.NewRecord(entity), nil
	}
}

func (p *Publisher) NewRecord(entity string) *Record {
	return &Record{publisher: p, entity: entity, values: make(map[string]interface{})}
}

type Record struct {
	publisher *Publisher
	entity    string
	values    map[string]interface{}
	id        string
}

func (r *Record) HasAttribute(name string) bool {
	if r.publisher.columns == nil {
		return true
	}
	return r.publisher.columns[name]
}

func (r *Record) SetAttributes(values map[string]interface{}) {
	for k, v := range values {
		r.values[k] = v
	}
}

// ID returns the stream entry id assigned when the record was saved.
func (r *Record) ID() string {
	return r.id
}

func (r *Record) Save(ctx context.Context) error {
	body, err := encodeMessage(&Message{Entity: r.entity, Values: r.values, Added: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.publisher.StreamFor(r.entity),
		Values: []string{payloadField, string(body), entityField, r.entity},
	}
	if r.publisher.maxLen > 0 {
		args.MaxLen = r.publisher.maxLen
		args.Approx = true
	}
	id, err := r.publisher.client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.Wrapf(err, "publishing %s log record to %s", r.entity, args.Stream)
	}
	r.id = id
	return nil
}

func encodeMessage(message *Message) ([]byte, error) {
	body, err := msgpack.Marshal(message)
	if err != nil {
		return nil, errors.Wrap(err, "encoding log record")
	}
	return body, nil
}

func decodeMessage(values map[string]interface{}) (*Message, error) {
	payload, has := values[payloadField]
	if !has {
		return nil, errors.New("stream entry without payload")
	}
	asString, is := payload.(string)
	if !is {
		return nil, errors.Errorf("invalid stream payload type %T", payload)
	}
	message := &Message{}
	err := msgpack.Unmarshal([]byte(asString), message)
	if err != nil {
		return nil, errors.Wrap(err, "decoding log record")
	}
	if message.Values == nil {
		message.Values = make(map[string]interface{})
	}
	return message, nil
}
