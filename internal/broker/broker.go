// Package broker provisions topics and delivers messages to Kafka, or to a
// JSONL file when running dry.
package broker

import "context"

// Header is a message header. Order is preserved on the wire.
type Header struct {
	Key   string
	Value []byte
}

// Message is one record handed to a Producer.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers []Header
}

// Position is where the broker stored a delivered message.
type Position struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Producer delivers a message and waits for the broker's acknowledgement.
// Implementations are safe for concurrent use.
type Producer interface {
	Send(ctx context.Context, msg Message) (Position, error)
	Close()
}

// TopicEnsurer makes sure a topic exists before it is written to.
type TopicEnsurer interface {
	Ensure(ctx context.Context, topic string) error
}
