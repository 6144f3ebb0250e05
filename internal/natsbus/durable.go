package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Durable input stream: agent input is kept on disk until the relay has
// taken it, so messages published while the relay is down are delivered
// when it starts.
const (
	StreamAgentInput   = "AGENT_INPUT"
	ConsumerAgentInput = "relay"
	agentInputMaxAge   = 24 * time.Hour
)

// ConsumeDurable makes sure a work-queue stream named stream captures
// subject and consumes it through the durable consumer. The handler must
// ack every message. Stopping the returned context keeps the consumer, so a
// later call resumes after the last acked message.
func (c *Client) ConsumeDurable(ctx context.Context, stream, durable, subject string, handler func(msg jetstream.Msg)) (jetstream.ConsumeContext, error) {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    agentInputMaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", stream, err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := cons.Consume(handler)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", stream, err)
	}
	return cc, nil
}
