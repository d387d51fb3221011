package di

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lionbidi/storefront/internal/platform/config"
	"github.com/lionbidi/storefront/internal/platform/observability"
)

func TestDeliveryResolverCachesRegionsInRedis(t *testing.T) {
	var lookups atomic.Int32
	directory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"Status":"Success","PostOffice":[{"District":"Bengaluru","State":"Karnataka"}]}]`))
	}))
	defer directory.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver, err := buildDeliveryResolver(config.DeliveryConfig{
		LookupBaseURL: directory.URL + "/pincode/",
		LookupTimeout: time.Second,
		DefaultCharge: 9900,
		FreeThreshold: 99900,
		StateCharges:  map[string]string{"karnataka": "4900"},
		CacheTTL:      time.Hour,
	}, client, observability.NewMetrics(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	info, err := resolver.Resolve(ctx, "560001", 10000)
	require.NoError(t, err)
	require.Equal(t, int64(4900), info.Charges)
	require.Equal(t, "Bengaluru, Karnataka", info.ResolvedRegion)

	directory.Close()
	again, err := resolver.Resolve(ctx, "560001", 10000)
	require.NoError(t, err)
	require.Equal(t, info, again)
	require.Equal(t, int32(1), lookups.Load())
}

func TestDeliveryResolverFallsBackWhenDirectoryDown(t *testing.T) {
	directory := httptest.NewServer(http.NotFoundHandler())
	directory.Close()

	resolver, err := buildDeliveryResolver(config.DeliveryConfig{
		LookupBaseURL: directory.URL,
		DefaultCharge: 9900,
		FreeThreshold: 99900,
	}, nil, observability.NewMetrics(), zap.NewNop())
	require.NoError(t, err)

	info, err := resolver.Resolve(context.Background(), "560001", 10000)
	require.NoError(t, err)
	require.Equal(t, int64(9900), info.Charges)
	require.Empty(t, info.ResolvedRegion)
}

func TestOIDCMiddlewareSkippedOnlyForLocalWithoutAudience(t *testing.T) {
	c := &Container{logger: zap.NewNop()}

	require.Nil(t, c.buildOIDCMiddleware(config.SecurityConfig{Environment: "local"}))
	require.NotNil(t, c.buildOIDCMiddleware(config.SecurityConfig{Environment: "prod"}))
	require.NotNil(t, c.buildOIDCMiddleware(config.SecurityConfig{
		Environment: "local",
		OIDC:        config.OIDCConfig{Audience: "https://api.example.com", Issuers: []string{"https://accounts.google.com"}},
	}))
}

func TestContainerCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	c := &Container{closers: []func(context.Context) error{
		func(context.Context) error { order = append(order, "first"); return nil },
		func(context.Context) error { order = append(order, "second"); return boom },
	}}

	err := c.Close(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"second", "first"}, order)
	require.NoError(t, c.Close(context.Background()))
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{
		Firebase:  config.FirebaseConfig{ProjectID: "lb-prod"},
		Firestore: config.FirestoreConfig{ProjectID: "lb-db"},
	}
	require.Equal(t, "lb-prod", traceProjectID(cfg))

	cfg.Firebase.ProjectID = ""
	require.Equal(t, "lb-db", traceProjectID(cfg))
}
