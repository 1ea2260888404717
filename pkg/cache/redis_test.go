package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a throwaway Redis for backend tests.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Redis container not available: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})

	t.Cleanup(func() {
		client.Close()
		_ = container.Terminate(context.Background())
	})

	return client
}

func TestNewRedisBackend_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisBackend should panic with nil redis client")
		}
	}()
	NewRedisBackend(nil, "")
}

func TestRedisBackend_StoreAndLoad(t *testing.T) {
	client := setupRedisContainer(t)
	b := NewRedisBackend(client, "test:")
	ctx := context.Background()

	entry := &Entry{
		Data:     []byte(`{"name":"alice","count":3}`),
		StoredAt: time.Now().UTC().Truncate(time.Second),
		TTL:      time.Minute,
	}
	if err := b.Store(ctx, "glpi:technician_ranking", entry); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	got, err := b.Load(ctx, "glpi:technician_ranking")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) || got.TTL != entry.TTL || !got.StoredAt.Equal(entry.StoredAt) {
		t.Errorf("Load() = %+v, want %+v", got, entry)
	}

	ttl, err := client.TTL(ctx, "test:glpi:technician_ranking").Result()
	if err != nil {
		t.Fatalf("TTL() failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("redis TTL = %v, want within (0, 1m]", ttl)
	}
}

func TestRedisBackend_Miss(t *testing.T) {
	client := setupRedisContainer(t)
	b := NewRedisBackend(client, "test:")

	if _, err := b.Load(context.Background(), "missing"); err != ErrCacheMiss {
		t.Errorf("Load(missing) err = %v, want ErrCacheMiss", err)
	}
}

func TestRedisBackend_WithManager(t *testing.T) {
	client := setupRedisContainer(t)
	m := NewManager(NewRedisBackend(client, "test:"), zerolog.Nop())
	ctx := context.Background()

	key := NewKey(ResourceDashboardMetricsFiltered, Signature(map[string]string{"start": "2024-01-01"}))
	if err := m.Set(ctx, key, payload{Name: "shared", Count: 42}, 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	// A second manager on the same Redis sees the entry.
	other := NewManager(NewRedisBackend(client, "test:"), zerolog.Nop())
	var got payload
	if !other.Get(ctx, key, &got) {
		t.Fatal("Get() from a second manager should hit")
	}
	if got.Count != 42 {
		t.Errorf("Get() = %+v", got)
	}
}
