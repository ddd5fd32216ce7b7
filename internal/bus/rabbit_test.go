package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type recordingAcker struct {
	mu    sync.Mutex
	acked []uint64
}

func (a *recordingAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (a *recordingAcker) Reject(tag uint64, requeue bool) error        { return nil }

func (a *recordingAcker) ackedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked)
}

func delivery(t *testing.T, acker amqp091.Acknowledger, tag uint64, event Event) amqp091.Delivery {
	t.Helper()
	env, err := Wrap(event)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return amqp091.Delivery{Acknowledger: acker, DeliveryTag: tag, Type: env.Name, Body: body}
}

func TestConsumerRunsDeliveriesConcurrently(t *testing.T) {
	consumer := NewRabbitConsumer(nil, "jobs", "worker-test", 4, zerolog.Nop())

	started := make(chan string, 2)
	release := make(chan struct{})
	consumer.Subscribe(EventGenerateRequest, func(ctx context.Context, event Event) error {
		req := event.(*GenerateRequested)
		started <- req.JobID
		if req.JobID == "job-slow" {
			<-release
		}
		return nil
	})

	acker := &recordingAcker{}
	msgs := make(chan amqp091.Delivery)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.consume(ctx, msgs) }()

	msgs <- delivery(t, acker, 1, GenerateRequested{JobID: "job-slow", UserID: "user-1"})
	if got := waitStarted(t, started); got != "job-slow" {
		t.Fatalf("first started = %q, want job-slow", got)
	}

	// With job-slow still blocked, a delivery for another job must proceed.
	msgs <- delivery(t, acker, 2, GenerateRequested{JobID: "job-fast", UserID: "user-2"})
	if got := waitStarted(t, started); got != "job-fast" {
		t.Fatalf("second started = %q, want job-fast", got)
	}

	close(release)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consume returned %v", err)
	}
	if got := acker.ackedCount(); got != 2 {
		t.Fatalf("acked = %d, want 2", got)
	}
}

func TestConsumerBoundsInFlightDeliveries(t *testing.T) {
	consumer := NewRabbitConsumer(nil, "jobs", "worker-test", 2, zerolog.Nop())

	started := make(chan string, 3)
	release := make(chan struct{})
	consumer.Subscribe(EventGenerateRequest, func(ctx context.Context, event Event) error {
		started <- event.(*GenerateRequested).JobID
		<-release
		return nil
	})

	acker := &recordingAcker{}
	msgs := make(chan amqp091.Delivery, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- consumer.consume(ctx, msgs) }()

	for i := uint64(1); i <= 3; i++ {
		msgs <- delivery(t, acker, i, GenerateRequested{JobID: "job", UserID: "user-1"})
	}

	waitStarted(t, started)
	waitStarted(t, started)
	select {
	case <-started:
		t.Fatal("third delivery started past the concurrency bound")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	waitStarted(t, started)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consume returned %v", err)
	}
}

func TestConsumerAcksPoisonDeliveries(t *testing.T) {
	consumer := NewRabbitConsumer(nil, "jobs", "worker-test", 2, zerolog.Nop())
	consumer.Subscribe(EventGenerateRequest, func(ctx context.Context, event Event) error {
		return errors.New("handler blew up")
	})

	acker := &recordingAcker{}
	msgs := make(chan amqp091.Delivery, 3)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.consume(ctx, msgs) }()

	// Garbage body, unhandled event, handler failure: all acked, none requeued.
	msgs <- amqp091.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte("{not json")}
	msgs <- delivery(t, acker, 2, VoiceUploadCompleted{UserID: "user-1", VoiceKey: "vk", VoiceName: "n", Service: "s"})
	msgs <- delivery(t, acker, 3, GenerateRequested{JobID: "job-1", UserID: "user-1"})

	deadline := time.After(2 * time.Second)
	for acker.ackedCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("acked = %d, want 3", acker.ackedCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consume returned %v", err)
	}
}

func waitStarted(t *testing.T, started <-chan string) string {
	t.Helper()
	select {
	case id := <-started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start in time")
		return ""
	}
}
