package work

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLinePublisherReadyAndPublish(t *testing.T) {
	pub, err := NewLinePublisher("127.0.0.1:0", zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	select {
	case <-pub.Ready():
		t.Fatal("publisher should not be ready without subscribers")
	default:
	}

	conn, err := net.Dial("tcp", pub.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-pub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("publisher should become ready on first subscriber")
	}

	task, err := testBuilder().Build(testTemplate(), [32]byte{}, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := pub.Publish(task); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got TaskMessage
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TaskID != task.TaskID || got.Height != task.Height {
		t.Error("published task does not round-trip")
	}
	if got.Template == nil || got.Template.Height != task.Template.Height {
		t.Error("template passthrough missing")
	}
}

func TestLinePublisherNoSubscribers(t *testing.T) {
	pub, err := NewLinePublisher("127.0.0.1:0", zap.NewNop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	task, err := testBuilder().Build(testTemplate(), [32]byte{}, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := pub.Publish(task); err == nil {
		t.Error("publish without subscribers should fail")
	}
}
