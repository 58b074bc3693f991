package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/testutils"
	"github.com/saviobatista/ogn-feed/internal/types"
)

// setupNATS starts a NATS container and returns its connection URL
func setupNATS(t *testing.T) string {
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.10-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	return url
}

func TestNATSClient_Integration_PublishAndSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client, err := New(setupNATS(t))
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var received []*types.Event
	sub, err := client.SubscribeEvents(SubjectAll, func(event *types.Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	displayOnly := make(chan *types.Event, 1)
	sub2, err := client.SubscribeEvents(Subject(types.KindDisplayLine), func(event *types.Event) {
		displayOnly <- event
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub2.Unsubscribe()

	if err := client.PublishEvent(types.ServerComment("#keepalive")); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	if err := client.PublishEvent(testutils.MockDisplayEvent("ABCDEF", ogn.Paraglider)); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}

	err = testutils.WaitForCondition(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Events not received: %v", err)
	}

	select {
	case event := <-displayOnly:
		if event.Display == nil || event.Display.Address != "ABCDEF" {
			t.Errorf("Unexpected display event %+v", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Display subscription received nothing")
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0].Kind != types.KindServerComment || received[1].Kind != types.KindDisplayLine {
		t.Errorf("Events out of order: %v, %v", received[0].Kind, received[1].Kind)
	}
}
