package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerStopsOnCancel(t *testing.T) {
	m := NewManager()
	for _, name := range []string{"a", "b"} {
		m.Add(name, StartFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestManagerFailureStopsOthers(t *testing.T) {
	boom := errors.New("bind: address in use")
	stopped := make(chan struct{})

	m := NewManager()
	m.Add("http", StartFunc(func(context.Context) error { return boom }))
	m.Add("poller", StartFunc(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}))

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	<-stopped
}
