package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestApplyQuotaScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	script := redis.NewScript(applyQuotaScript)
	keys := []string{"kidsfeed:quota:fam", "kidsfeed:quotas"}

	tests := []struct {
		name      string
		today     string
		seconds   int64
		wantTotal int64
		wantReset int64
	}{
		{name: "create", today: "2024-05-01", seconds: 10, wantTotal: 10, wantReset: 0},
		{name: "increment same day", today: "2024-05-01", seconds: 5, wantTotal: 15, wantReset: 0},
		{name: "new day resets first", today: "2024-05-02", seconds: 1, wantTotal: 1, wantReset: 1},
		{name: "zero credit keeps total", today: "2024-05-02", seconds: 0, wantTotal: 1, wantReset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := script.Run(ctx, client, keys, "fam", tt.today, tt.seconds).Int64Slice()
			if err != nil {
				t.Fatalf("script failed: %v", err)
			}
			if got[0] != tt.wantTotal || got[1] != tt.wantReset {
				t.Errorf("got %v, want [%d %d]", got, tt.wantTotal, tt.wantReset)
			}
		})
	}

	if ok, _ := mr.SIsMember("kidsfeed:quotas", "fam"); !ok {
		t.Error("expected family in quota index")
	}
	if got := mr.HGet("kidsfeed:quota:fam", "last_reset_date"); got != "2024-05-02" {
		t.Errorf("last_reset_date = %q", got)
	}
}
