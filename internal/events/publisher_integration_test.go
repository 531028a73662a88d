//go:build integration

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestIntegration_StageEvent(t *testing.T) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	logger := slog.Default()

	pub, err := NewPublisher(natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pub.Close()

	sub, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	received := make(chan StagePayload, 1)
	_, err = sub.Subscribe(SubjectPrefix+".ingest.completed", func(msg *nats.Msg) {
		var p StagePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Errorf("unmarshal event: %v", err)
			return
		}
		received <- p
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Flush()

	pub.StageEvent(context.Background(), "ingest", "completed", map[string]any{"processed": 3})

	select {
	case p := <-received:
		if p.Stage != "ingest" || p.Event != "completed" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stage event")
	}
}
