package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer(ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, err := grpc.NewClient(ln.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
	})
	return s, healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealth_ServingThenNotServing(t *testing.T) {
	s, c, _, _ := startServer(t)

	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall status: %v", got)
	}

	s.SetServing(false)
	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after SetServing(false): %v", got)
	}
}

func TestHealth_UnknownService(t *testing.T) {
	_, c, _, _ := startServer(t)

	for _, svc := range []string{"nope", "meet.v1.MeetService"} {
		_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("%q: expected NotFound, got %v", svc, err)
		}
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	_, _, cancel, done := startServer(t)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("grpc server did not stop")
	}
}

func TestUnaryInterceptor_RecoversPanic(t *testing.T) {
	icpt := UnaryServerInterceptor()
	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("deadline guard not applied")
			}
			panic("boom")
		})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}
