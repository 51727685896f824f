package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, checks map[string]Check) (*Server, healthpb.HealthClient) {
	t.Helper()
	srv := New(checks, slog.New(slog.NewTextHandler(io.Discard, nil)))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error = %v", service, err)
	}
	return resp.Status
}

func TestRefresh(t *testing.T) {
	var storeDown atomic.Bool
	srv, client := startServer(t, map[string]Check{
		"store": func(ctx context.Context) error {
			if storeDown.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
		"queue": func(ctx context.Context) error { return nil },
	})

	if !srv.Refresh(context.Background()) {
		t.Fatal("Refresh() = false, want healthy")
	}
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %v, want SERVING", got)
	}

	storeDown.Store(true)
	if srv.Refresh(context.Background()) {
		t.Fatal("Refresh() = true, want unhealthy")
	}
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %v, want NOT_SERVING", got)
	}
	if got := status(t, client, ServicePrefix+"store"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("store = %v, want NOT_SERVING", got)
	}
	if got := status(t, client, ServicePrefix+"queue"); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("queue = %v, want SERVING", got)
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv, _ := startServer(t, map[string]Check{
		"store": func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Watch(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Watch did not refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
