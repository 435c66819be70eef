package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ordersResource = "projects/test/secrets/webhooks-orders/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[ordersResource] = "remote-secret"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://webhooks-orders")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %s", got)
		}
	}
	if calls := client.callCount(ordersResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}

	fetcher.Invalidate("secret://webhooks-orders")
	if _, err := fetcher.Resolve(ctx, "secret://webhooks-orders"); err != nil {
		t.Fatalf("Resolve after invalidate returned error: %v", err)
	}
	if calls := client.callCount(ordersResource); calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local\nsm://webhooks-orders=local-secret\n"
	if err := os.WriteFile(fallbackPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newFakeSecretClient()
	client.errors[ordersResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://webhooks-orders")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected fallback secret local-secret, got %s", got)
	}
}

func TestResolveDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors[ordersResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	_, err = fetcher.Resolve(ctx, "secret://webhooks-orders")
	if status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected NotFound to surface, got %v", err)
	}
}

func TestResolveUsesEnvironmentProjectAndOverrides(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/prod-secrets/secrets/hmac/versions/latest"] = "prod"
	client.values["projects/other/secrets/hmac/versions/7"] = "pinned"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("PROD"),
		WithProjectMap(map[string]string{"prod": "prod-secrets"}),
		WithDefaultProject("fallback"),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if got, err := fetcher.Resolve(ctx, "secret://hmac"); err != nil || got != "prod" {
		t.Fatalf("expected environment project, got %q err %v", got, err)
	}
	if got, err := fetcher.Resolve(ctx, "secret://hmac?project=other&version=7"); err != nil || got != "pinned" {
		t.Fatalf("expected explicit project and version, got %q err %v", got, err)
	}
}

func TestNewFetcherWithoutClientUsesFallbackOnly(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	fallbackPath := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte("secret://system/healthz=ok\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	fetcher, err := NewFetcher(context.Background(), WithDefaultProject("test"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	if got, err := fetcher.Resolve(context.Background(), "secret://system/healthz"); err != nil || got != "ok" {
		t.Fatalf("expected fallback value, got %q err %v", got, err)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://unknown"); err == nil {
		t.Fatalf("expected missing fallback error")
	}
}

func TestParseReference(t *testing.T) {
	cases := map[string]bool{
		"secret://orders":           true,
		"secret://a/b?version=3":    true,
		"":                          false,
		"https://example.com/value": false,
		"secret://":                 false,
	}
	for ref, ok := range cases {
		_, err := parseReference(ref)
		if (err == nil) != ok {
			t.Fatalf("parseReference(%q) err=%v, want ok=%v", ref, err, ok)
		}
	}
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: make(map[string]string),
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}
