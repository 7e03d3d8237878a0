package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

var errDrained = errors.New("drained")

type fakeReader struct {
	msgs      []kafka.Message
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	return kafka.Message{}, errDrained
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func deliveryChangedMessage(t *testing.T, offset int64, m messages.DeliveryChanged) kafka.Message {
	t.Helper()
	b, err := m.Encode()
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: m.Key(), Value: b}
}

func TestConsumer_DecodesDeliveryChanged(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{
		deliveryChangedMessage(t, 1, messages.DeliveryChanged{OrderID: 42, OldStatus: "IN_TRANSIT", NewStatus: "DELIVERED"}),
	}}
	c := newConsumerWithReader(fr)

	var got []messages.DeliveryChanged
	err := c.ConsumeDeliveryChanged(context.Background(), func(ctx context.Context, m messages.DeliveryChanged) error {
		got = append(got, m)
		return nil
	})
	require.ErrorIs(t, err, errDrained)
	require.Len(t, got, 1)
	require.Equal(t, int64(42), got[0].OrderID)
	require.Equal(t, "DELIVERED", got[0].NewStatus)
	require.NotEmpty(t, got[0].MessageID)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_SkipsAndCommitsMalformed(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{`)},
		{Offset: 2, Value: []byte(`{"new_status":"DELIVERED"}`)},
		deliveryChangedMessage(t, 3, messages.DeliveryChanged{OrderID: 7, NewStatus: "RETOUR"}),
	}}
	c := newConsumerWithReader(fr)

	var handled []int64
	err := c.ConsumeDeliveryChanged(context.Background(), func(ctx context.Context, m messages.DeliveryChanged) error {
		handled = append(handled, m.OrderID)
		return nil
	})
	require.ErrorIs(t, err, errDrained)
	require.Equal(t, []int64{7}, handled)
	require.Equal(t, int64(2), c.Skipped())
	require.Len(t, fr.committed, 3, "malformed payloads are committed too")
}

func TestConsumer_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{
		deliveryChangedMessage(t, 1, messages.DeliveryChanged{OrderID: 9, NewStatus: "DELIVERED"}),
		deliveryChangedMessage(t, 2, messages.DeliveryChanged{OrderID: 10, NewStatus: "DELIVERED"}),
	}}
	c := newConsumerWithReader(fr)

	want := errors.New("redis down")
	err := c.ConsumeDeliveryChanged(context.Background(), func(ctx context.Context, m messages.DeliveryChanged) error {
		return want
	})
	require.ErrorIs(t, err, want)
	require.Contains(t, err.Error(), "order 9")
	require.Empty(t, fr.committed, "failed message must not be committed")
	require.Equal(t, 1, fr.i, "nothing is read past the failed message")
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "order.delivery_changed", "order-api")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
