package main

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func runDispatch(t *testing.T, ctx context.Context, msgs <-chan amqp.Delivery, deliveries chan<- amqp.Delivery) {
	t.Helper()
	returned := make(chan struct{})
	go func() {
		dispatch(ctx, msgs, deliveries)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch did not return")
	}
}

func TestDispatch_ReturnsOnShutdownWhenWorkersAreBusy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	msgs := make(chan amqp.Delivery, 1)
	msgs <- amqp.Delivery{MessageId: "m1"}
	// nobody drains this: every worker is busy
	deliveries := make(chan amqp.Delivery)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	runDispatch(t, ctx, msgs, deliveries)
}

func TestDispatch_ForwardsUntilBrokerCloses(t *testing.T) {
	msgs := make(chan amqp.Delivery, 2)
	msgs <- amqp.Delivery{MessageId: "m1"}
	msgs <- amqp.Delivery{MessageId: "m2"}
	close(msgs)

	deliveries := make(chan amqp.Delivery, 2)
	runDispatch(t, context.Background(), msgs, deliveries)

	if len(deliveries) != 2 {
		t.Fatalf("expected 2 forwarded deliveries, got %d", len(deliveries))
	}
	if d := <-deliveries; d.MessageId != "m1" {
		t.Fatalf("unexpected order: %s", d.MessageId)
	}
}
