package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

// writer is the part of *kafka.Writer the producer needs
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes settlement records as JSON, keyed by the right (maker)
// order key so every match of one order lands on the same partition in
// settlement order. It is a record.Sink.
type Producer struct {
	writer writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, ev record.Event) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func message(ev record.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.Match.RightKey.Hex()),
		Value: value,
		Time:  time.UnixMilli(ev.Timestamp),
		Headers: []kafka.Header{
			{Key: "left_key", Value: []byte(ev.Match.LeftKey.Hex())},
			{Key: "transfers", Value: []byte(strconv.Itoa(len(ev.Transfers)))},
		},
	}, nil
}

var _ record.Sink = (*Producer)(nil)
