package kafkautil

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Machine string `json:"machine"`
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	fetchErr  error
	commitErr error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.fetchErr != nil {
		return kafka.Message{}, r.fetchErr
	}
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestConsumerRead(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"machine":"builder"}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"machine":"tester"}`)},
	}}
	c := &Consumer[payload]{reader: r}
	ctx := context.Background()

	p, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "builder", p.Machine)

	_, err = c.Read(ctx)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.EqualValues(t, 2, decodeErr.Offset)

	p, err = c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tester", p.Machine)
	assert.Equal(t, []int64{1, 2, 3}, r.committed)

	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func TestConsumerErrors(t *testing.T) {
	boom := errors.New("broker down")
	c := &Consumer[payload]{reader: &fakeReader{fetchErr: boom}}
	_, err := c.Read(context.Background())
	assert.ErrorIs(t, err, boom)

	c = &Consumer[payload]{reader: &fakeReader{
		msgs:      []kafka.Message{{Value: []byte(`{}`)}},
		commitErr: boom,
	}}
	_, err = c.Read(context.Background())
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = &Consumer[payload]{reader: &fakeReader{}}
	_, err = c.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducerWrite(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer[payload]{writer: w, topic: "provision-requests"}

	require.NoError(t, p.Write(context.Background(), []byte("k1"), payload{Machine: "builder"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("k1"), w.msgs[0].Key)
	assert.JSONEq(t, `{"machine":"builder"}`, string(w.msgs[0].Value))
	assert.False(t, w.msgs[0].Time.IsZero())

	w.err = kafka.UnknownTopicOrPartition
	err := p.Write(context.Background(), nil, payload{})
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestConfigChecks(t *testing.T) {
	_, err := NewProducer[payload](Config{Topic: "t"})
	assert.Error(t, err)
	_, err = NewConsumer[payload](Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	_, err = NewConsumer[payload](Config{Brokers: []string{"localhost:9092"}, Topic: "t"})
	assert.Error(t, err, "group id is required")
}
