package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

func sampleVerdict(tenantID string) *domain.Verdict {
	return &domain.Verdict{
		ID:             "verdict-001",
		TenantID:       tenantID,
		TxID:           "tx-001",
		IsFraud:        true,
		CombinedScore:  0.82,
		RiskLevel:      domain.RiskHigh,
		Recommendation: domain.RecommendBlock,
		TriggeredRules: []string{"High transaction amount"},
		Timestamp:      time.Now().UTC(),
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

func TestChannelBusDeliversVerdictEvents(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	inbox := make(chan *domain.Message, 1)

	sub, err := bus.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		inbox <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if sub.Topic() != domain.TopicVerdict {
		t.Errorf("expected topic %s, got %s", domain.TopicVerdict, sub.Topic())
	}

	verdict := sampleVerdict("tenant-001")
	if err := bus.Publish(ctx, "tenant-001", domain.TopicVerdict, mustMarshal(t, verdict)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-inbox:
		if msg.TenantID != "tenant-001" {
			t.Errorf("expected tenant-001, got %s", msg.TenantID)
		}
		if msg.Topic != domain.TopicVerdict {
			t.Errorf("expected topic %s, got %s", domain.TopicVerdict, msg.Topic)
		}
		var got domain.Verdict
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("payload is not a verdict: %v", err)
		}
		if got.TxID != verdict.TxID {
			t.Errorf("expected txId %s, got %s", verdict.TxID, got.TxID)
		}
		if got.RiskLevel != domain.RiskHigh {
			t.Errorf("expected risk level HIGH, got %s", got.RiskLevel)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for verdict event")
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var tenant1, tenant2 atomic.Int32

	bus.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		tenant1.Add(1)
		return nil
	})
	bus.Subscribe(ctx, "tenant-002", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		tenant2.Add(1)
		return nil
	})

	bus.Publish(ctx, "tenant-001", domain.TopicVerdict, mustMarshal(t, sampleVerdict("tenant-001")))
	time.Sleep(50 * time.Millisecond)

	if tenant1.Load() != 1 {
		t.Errorf("expected tenant-001 to receive 1 verdict, got %d", tenant1.Load())
	}
	if tenant2.Load() != 0 {
		t.Errorf("expected tenant-002 to receive nothing, got %d", tenant2.Load())
	}
}

func TestChannelBusAlertFanOut(t *testing.T) {
	// An alert goes to every consumer of the tenant's alert topic: a
	// case-management sink and a notifier must both see it.
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var caseSink, notifier atomic.Int32

	bus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		caseSink.Add(1)
		return nil
	})
	bus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		notifier.Add(1)
		return nil
	})

	alert := &domain.Alert{
		AlertID:        "alert-001",
		TxID:           "tx-001",
		TenantID:       "tenant-001",
		RiskLevel:      domain.RiskHigh,
		RiskScore:      0.82,
		Recommendation: domain.RecommendBlock,
		Timestamp:      time.Now().UTC(),
	}
	bus.Publish(ctx, "tenant-001", domain.TopicAlert, mustMarshal(t, alert))
	time.Sleep(50 * time.Millisecond)

	if caseSink.Load() != 1 || notifier.Load() != 1 {
		t.Errorf("expected both alert consumers to receive, got %d and %d", caseSink.Load(), notifier.Load())
	}
}

func TestChannelBusRequiresTenantID(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	if err := bus.Publish(ctx, "", domain.TopicVerdict, []byte("{}")); err == nil {
		t.Error("expected publish error for empty tenantID")
	}
	if _, err := bus.Subscribe(ctx, "", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); err == nil {
		t.Error("expected subscribe error for empty tenantID")
	}
}

func TestChannelBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var count atomic.Int32

	sub, err := bus.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.Publish(ctx, "tenant-001", domain.TopicVerdict, mustMarshal(t, sampleVerdict("tenant-001")))
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Fatalf("expected 1 verdict before unsubscribe, got %d", count.Load())
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}

	bus.Publish(ctx, "tenant-001", domain.TopicVerdict, mustMarshal(t, sampleVerdict("tenant-001")))
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d", count.Load())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Ping(ctx); err != nil {
		t.Errorf("ping failed on open bus: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	// Close is idempotent.
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "tenant-001", domain.TopicVerdict, []byte("{}")); err == nil {
		t.Error("expected publish error after close")
	}
	if _, err := bus.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusVerdictBurst(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const verdictCount = 100

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(verdictCount)

	bus.Subscribe(ctx, "tenant-001", domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
		var v domain.Verdict
		if err := json.Unmarshal(msg.Payload, &v); err == nil && v.TenantID == "tenant-001" {
			received.Add(1)
		}
		wg.Done()
		return nil
	})

	payload := mustMarshal(t, sampleVerdict("tenant-001"))
	for i := 0; i < verdictCount; i++ {
		bus.Publish(ctx, "tenant-001", domain.TopicVerdict, payload)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != verdictCount {
			t.Errorf("expected %d verdicts, got %d", verdictCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d verdicts", received.Load(), verdictCount)
	}
}
