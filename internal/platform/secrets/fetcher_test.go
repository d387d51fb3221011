package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeAccessClient) Close() error { return nil }

func (c *fakeAccessClient) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

const redisSecret = "projects/lb-prod/secrets/redis-password/versions/latest"

func newTestFetcher(t *testing.T, client *fakeAccessClient, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{withAccessClient(client), WithProject("lb-prod"), WithMeter(noop.NewMeterProvider().Meter("test"))}
	f, err := NewFetcher(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	client := newFakeAccessClient()
	client.values[redisSecret] = "hunter2"
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	f := newTestFetcher(t, client, WithEnvironment("prod"), withClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		got, err := f.ResolveSecret(context.Background(), "secret://redis-password")
		if err != nil || got != "hunter2" {
			t.Fatalf("ResolveSecret = %q, %v", got, err)
		}
	}
	if n := client.count(redisSecret); n != 1 {
		t.Fatalf("expected one remote access, got %d", n)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	if _, err := f.ResolveSecret(context.Background(), "sm://redis-password"); err != nil {
		t.Fatalf("ResolveSecret after ttl: %v", err)
	}
	if n := client.count(redisSecret); n != 2 {
		t.Fatalf("expected refetch after ttl, got %d", n)
	}
}

func TestResolveSecretVersionAndProjectOverride(t *testing.T) {
	client := newFakeAccessClient()
	client.values["projects/lb-shared/secrets/redis-password/versions/3"] = "pinned"
	f := newTestFetcher(t, client, WithEnvironment("prod"))

	got, err := f.ResolveSecret(context.Background(), "secret://redis-password?version=3&project=lb-shared")
	if err != nil || got != "pinned" {
		t.Fatalf("ResolveSecret = %q, %v", got, err)
	}
}

func TestResolveSecretFallsBackLocally(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local dev\nsecret://redis-password=local-pass\nsm://other=x\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeAccessClient()
	client.errs[redisSecret] = status.Error(codes.PermissionDenied, "denied")
	f := newTestFetcher(t, client, WithEnvironment("local"), WithFallbackFile(path))

	got, err := f.ResolveSecret(context.Background(), "secret://redis-password")
	if err != nil || got != "local-pass" {
		t.Fatalf("ResolveSecret = %q, %v", got, err)
	}
}

func TestResolveSecretNoFallbackOutsideLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://redis-password=local-pass\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeAccessClient()
	client.errs[redisSecret] = status.Error(codes.PermissionDenied, "denied")
	f := newTestFetcher(t, client, WithEnvironment("prod"), WithFallbackFile(path))

	if _, err := f.ResolveSecret(context.Background(), "secret://redis-password"); err == nil {
		t.Fatalf("expected error in prod when secret manager denies access")
	}
}

func TestResolveSecretNotFound(t *testing.T) {
	f := newTestFetcher(t, newFakeAccessClient(), WithEnvironment("prod"))
	_, err := f.ResolveSecret(context.Background(), "secret://missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client := newFakeAccessClient()
	client.values[redisSecret] = "v1"
	f := newTestFetcher(t, client, WithEnvironment("prod"))

	if _, err := f.ResolveSecret(context.Background(), "secret://redis-password"); err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	client.mu.Lock()
	client.values[redisSecret] = "v2"
	client.mu.Unlock()
	f.Invalidate("secret://redis-password")

	got, err := f.ResolveSecret(context.Background(), "secret://redis-password")
	if err != nil || got != "v2" {
		t.Fatalf("expected rotated value, got %q (%v)", got, err)
	}
}

func TestParseReferenceRejectsInvalid(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}
