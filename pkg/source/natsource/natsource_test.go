package natsource

import (
	"bytes"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	opts := &natssrv.Options{
		Port: -1,
	}
	s, err := natssrv.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(func() {
		s.Shutdown()
	})
	return s
}

func TestSource_PullsPublishedMessages(t *testing.T) {
	srv := runTestNATSServer(t)

	src, err := New(srv.ClientURL(), Options{Subject: "work.items"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })

	// Nothing published yet: promptly empty.
	if _, ok, err := src.TryNext(); err != nil || ok {
		t.Fatalf("TryNext() on empty subject = (ok=%v, err=%v), want empty", ok, err)
	}

	pub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(pub.Close)

	for _, payload := range []string{"job-1", "job-2"} {
		if err := pub.Publish("work.items", []byte(payload)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := pub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for _, want := range [][]byte{[]byte("job-1"), []byte("job-2")} {
		item := pollUntilItem(t, src)
		if !bytes.Equal(item, want) {
			t.Errorf("TryNext() = %q, want %q", item, want)
		}
	}

	if _, ok, err := src.TryNext(); err != nil || ok {
		t.Errorf("TryNext() after drain = (ok=%v, err=%v), want empty", ok, err)
	}
}

func TestNew_RequiresSubject(t *testing.T) {
	if _, err := New("nats://localhost:4222", Options{}); err == nil {
		t.Error("New() without subject succeeded")
	}
}

func pollUntilItem(t *testing.T, src *Source) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, ok, err := src.TryNext()
		if err != nil {
			t.Fatalf("TryNext() error = %v", err)
		}
		if ok {
			return item.([]byte)
		}
	}
	t.Fatal("timed out waiting for a message")
	return nil
}
