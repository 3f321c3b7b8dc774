package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/shared/config"
)

type fakeServer struct {
	listenErr error
	stopped   chan struct{}
	shutdowns int
}

func newFakeServer(listenErr error) *fakeServer {
	return &fakeServer{listenErr: listenErr, stopped: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stopped
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdowns++
	close(f.stopped)
	return nil
}

func TestHTTPServerService_ShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer(nil)
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 1, srv.shutdowns)
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	boom := errors.New("address in use")
	err := NewHTTPServerService(newFakeServer(boom), 0).Serve(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "http-server", NewHTTPServerService(newFakeServer(nil), 0).String())
}

func TestNewHTTPServer_WriteTimeoutOutlastsRetriedSync(t *testing.T) {
	tests := []struct {
		name     string
		upstream config.UpstreamConfig
	}{
		{
			name: "defaults",
			upstream: config.UpstreamConfig{
				Timeout: 30 * time.Second, MaxAttempts: 5,
				RateLimitCooldown: 5 * time.Second, BackoffBase: time.Second,
			},
		},
		{
			name: "slow upstream",
			upstream: config.UpstreamConfig{
				Timeout: 2 * time.Minute, MaxAttempts: 8,
				RateLimitCooldown: 30 * time.Second, BackoffBase: 2 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := catalog.NewClientFromConfig(tt.upstream)
			srv := newHTTPServer(":0", http.NotFoundHandler(), syncBudget(client))

			assert.Greater(t, srv.WriteTimeout, client.MaxFetchDuration())
			assert.Equal(t, client.MaxFetchDuration()+persistAllowance+responseAllowance, srv.WriteTimeout)
		})
	}
}
