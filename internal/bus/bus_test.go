package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, domain.TopicApplicationSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicApplicationSubmitted, []byte(`{"applicationId":"app-1"}`)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != `{"applicationId":"app-1"}` {
			t.Errorf("payload mismatch: %s", msg.Payload)
		}
		if msg.Topic != domain.TopicApplicationSubmitted {
			t.Errorf("topic mismatch: %s", msg.Topic)
		}
		if msg.ID == "" {
			t.Error("expected assigned message id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var rulesChanged int64
	sub, err := b.Subscribe(ctx, domain.TopicRulesChanged, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt64(&rulesChanged, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	b.Publish(ctx, domain.TopicDecisionRecorded, []byte("{}"))
	b.Publish(ctx, domain.TopicRulesChanged, []byte("{}"))

	time.Sleep(50 * time.Millisecond)

	if n := atomic.LoadInt64(&rulesChanged); n != 1 {
		t.Errorf("expected 1 rules-changed message, got %d", n)
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var count int64
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		_, err := b.Subscribe(ctx, domain.TopicDecisionRecorded, func(ctx context.Context, msg *domain.Message) error {
			atomic.AddInt64(&count, 1)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
	}

	if err := b.Publish(ctx, domain.TopicDecisionRecorded, []byte("{}")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for both subscribers")
	}

	if n := atomic.LoadInt64(&count); n != 2 {
		t.Errorf("expected both subscribers to receive, got %d", n)
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var count int64
	sub, err := b.Subscribe(ctx, domain.TopicRulesChanged, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	if sub.Topic() != domain.TopicRulesChanged {
		t.Errorf("expected topic on subscription, got %s", sub.Topic())
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}
	// Let the handler goroutine observe the cancellation.
	time.Sleep(20 * time.Millisecond)

	b.Publish(ctx, domain.TopicRulesChanged, []byte("{}"))
	time.Sleep(50 * time.Millisecond)

	if n := atomic.LoadInt64(&count); n != 0 {
		t.Errorf("expected no messages after unsubscribe, got %d", n)
	}
}

func TestChannelBusPublishWithoutSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	// Publishing into the void is not an error.
	if err := b.Publish(context.Background(), "kestrel.nobody.listens", []byte("{}")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewChannelBusFromConfig(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 5})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestNewUnknownBusType(t *testing.T) {
	_, err := New(domain.EventBusConfig{Type: "kafka"})
	if err == nil {
		t.Error("expected error for unknown bus type")
	}
}
