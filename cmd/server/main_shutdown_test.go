package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	osSignal "os/signal"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func fakeSignal(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		signalNotify = osSignal.Notify
	})

	signalNotify = func(ch chan<- os.Signal, sig ...os.Signal) {
		go func() {
			ch <- syscall.SIGTERM
		}()
	}
}

func TestShutdownSignals(t *testing.T) {
	fakeSignal(t)

	server := &http.Server{}
	called := make(chan struct{}, 1)
	server.RegisterOnShutdown(func() {
		called <- struct{}{}
	})

	logger := zaptest.NewLogger(t)
	shutdown(server, time.Millisecond, logger)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("expected server shutdown callback to execute")
	}
}

type stuckServer struct {
	closed bool
}

func (s *stuckServer) Shutdown(context.Context) error {
	return errors.New("connections still active")
}

func (s *stuckServer) Close() error {
	s.closed = true
	return nil
}

func TestShutdownForcesCloseWhenGracefulFails(t *testing.T) {
	fakeSignal(t)

	server := &stuckServer{}
	shutdown(server, time.Millisecond, zaptest.NewLogger(t))

	if !server.closed {
		t.Fatalf("expected forced close after failed graceful shutdown")
	}
}
