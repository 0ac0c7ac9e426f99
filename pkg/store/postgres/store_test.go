package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/a-essam23/go-chat/pkg/store"
	"github.com/a-essam23/go-chat/pkg/store/postgres"
	"github.com/a-essam23/go-chat/pkg/store/storetest"
)

// Requires a disposable database; every subtest truncates it.
func TestRepositoryContract(t *testing.T) {
	url := os.Getenv("GOCHAT_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("GOCHAT_TEST_POSTGRES_URL not set")
	}
	storetest.Run(t, func(t *testing.T) store.Repository {
		ctx := context.Background()
		s, err := postgres.Open(ctx, url)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := s.Truncate(ctx); err != nil {
			t.Fatalf("Truncate failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
