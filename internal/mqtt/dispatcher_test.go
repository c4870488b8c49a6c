package mqtt

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nugget/hostreporter/internal/entity"
)

func TestDispatcher_ExecutesMatchingCommand(t *testing.T) {
	t.Parallel()
	reboot := &stubCommand{topic: testTopics.Command("reboot"), id: "reboot", runs: make(chan struct{}, 1)}
	suspend := &stubCommand{topic: testTopics.Command("suspend"), id: "suspend", runs: make(chan struct{}, 1)}

	q := NewTopicQueue(4, quietLogger(), nil)
	d := NewDispatcher([]entity.Command{suspend, reboot}, q, quietLogger(), nil)

	want := []string{"home/nodes/box/command/reboot", "home/nodes/box/command/suspend"}
	if got := d.Topics(); !slices.Equal(got, want) {
		t.Errorf("Topics() = %v, want %v", got, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	q.Push(reboot.topic)
	select {
	case <-reboot.runs:
	case <-time.After(time.Second):
		t.Fatal("reboot command was not executed")
	}
	select {
	case <-suspend.runs:
		t.Error("suspend executed for a reboot message")
	default:
	}
}

func TestDispatcher_Subscribe(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	cmd := &stubCommand{topic: testTopics.Command("reboot"), id: "reboot"}
	d := NewDispatcher([]entity.Command{cmd}, NewTopicQueue(1, quietLogger(), nil), quietLogger(), nil)

	if err := d.Subscribe(context.Background(), conn); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !slices.Equal(conn.subscribed, []string{cmd.topic}) {
		t.Errorf("subscribed = %v", conn.subscribed)
	}
}

func TestDispatcher_UnknownTopicAndFailure(t *testing.T) {
	t.Parallel()
	logger, logs := captureLogger()
	failing := &stubCommand{topic: testTopics.Command("suspend"), id: "suspend", err: errors.New("sudo: a password is required")}
	d := NewDispatcher([]entity.Command{failing}, NewTopicQueue(1, logger, nil), logger, nil)

	d.Handle(context.Background(), "home/nodes/box/command/launch")
	d.Handle(context.Background(), failing.topic)

	out := logs.String()
	if !strings.Contains(out, "received message on unknown topic") || !strings.Contains(out, "command/launch") {
		t.Errorf("missing unknown-topic warning:\n%s", out)
	}
	if !strings.Contains(out, `msg="command failed" command=suspend`) {
		t.Errorf("missing command failure log:\n%s", out)
	}
}

func TestDispatcher_QueueClosed(t *testing.T) {
	t.Parallel()
	q := NewTopicQueue(1, quietLogger(), nil)
	d := NewDispatcher(nil, q, quietLogger(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Run() error = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop when the queue closed")
	}
}
