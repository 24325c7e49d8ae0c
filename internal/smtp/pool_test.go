package smtp

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/productdevbook/unemail/internal/email"
)

func TestPoolReusesIdleSession(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	pool := NewPool(NewClient(srv.config()), 2)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		if _, err := pool.Send(context.Background(), testOptions()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// Sequential sends ride the same connection.
	if got := srv.connCount(); got != 1 {
		t.Errorf("server saw %d connections, want 1", got)
	}
	if got := len(srv.recordedMessages()); got != 3 {
		t.Errorf("server accepted %d messages, want 3", got)
	}
}

func TestPoolDiscardsFailedSession(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	srv.rejectRcpt = "victim@example.com"
	pool := NewPool(NewClient(srv.config()), 2)
	defer pool.Close()

	bad := testOptions()
	bad.To = []string{"victim@example.com"}
	if _, err := pool.Send(context.Background(), bad); err == nil {
		t.Fatal("expected the rejected recipient to fail the send")
	}

	if _, err := pool.Send(context.Background(), testOptions()); err != nil {
		t.Fatalf("second send: %v", err)
	}

	// The poisoned session must not be reused.
	if got := srv.connCount(); got != 2 {
		t.Errorf("server saw %d connections, want 2", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	pool := NewPool(NewClient(srv.config()), 1)
	defer pool.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Send(context.Background(), testOptions())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if got := srv.maxConcurrent(); got > 1 {
		t.Errorf("server saw %d concurrent connections, want at most 1", got)
	}
	if got := len(srv.recordedMessages()); got != 4 {
		t.Errorf("server accepted %d messages, want 4", got)
	}
}

func TestPoolSendCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	pool := NewPool(NewClient(srv.config()), 1)
	defer pool.Close()

	// Occupy the only slot so the send has to wait.
	<-pool.slots
	defer func() { pool.slots <- struct{}{} }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Send(ctx, testOptions())
	if !email.IsKind(err, email.KindConnection) {
		t.Fatalf("expected a connection error, got %v", err)
	}
}

func TestPoolCloseQuitsIdleSessions(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	pool := NewPool(NewClient(srv.config()), 2)

	if _, err := pool.Send(context.Background(), testOptions()); err != nil {
		t.Fatalf("send: %v", err)
	}
	pool.Close()

	var quits int
	for _, cmd := range srv.recordedCommands() {
		if cmd == "QUIT" {
			quits++
		}
	}
	if quits != 1 {
		t.Errorf("server saw %d QUITs, want 1", quits)
	}

	if _, err := pool.Send(context.Background(), testOptions()); err == nil {
		t.Fatal("send on a closed pool must fail")
	} else if !strings.Contains(err.Error(), "pool is closed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPoolValidatesBeforeAcquiring(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t)
	pool := NewPool(NewClient(srv.config()), 1)
	defer pool.Close()

	_, err := pool.Send(context.Background(), &email.Options{})
	if !email.IsKind(err, email.KindValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if srv.connCount() != 0 {
		t.Error("no connection should have been opened")
	}
}
