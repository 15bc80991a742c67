package shard

import (
	"fmt"
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

// findAddrForShard searches for an address routing to wantShard under a
// 2-shard topology, since shard_of is a one-way hash with no closed form.
// exclude skips addresses already handed out to a prior call so tests can
// obtain distinct addresses for the same shard.
func findAddrForShard(t *testing.T, c *Coordinator, wantShard uint32, exclude ...models.Address) models.Address {
	t.Helper()
	skip := make(map[models.Address]bool, len(exclude))
	for _, a := range exclude {
		skip[a] = true
	}
	for i := 0; i < 10_000; i++ {
		addr := models.Address(fmt.Sprintf("addr-%d", i))
		if skip[addr] {
			continue
		}
		if c.ShardFor(addr) == wantShard {
			return addr
		}
	}
	t.Fatalf("could not find an address routing to shard %d", wantShard)
	return ""
}

func newTestCoordinator() *Coordinator {
	cfg := config.Default()
	cfg.TotalShards = 2
	cfg.ManagedShards = []uint32{0, 1}
	cfg.MaxCrossShardTxs = 10
	cfg.CrossShardRevertWindow = time.Minute
	return New(cfg, nil)
}

func TestSubmitTransferIntraShard(t *testing.T) {
	c := newTestCoordinator()
	alice := findAddrForShard(t, c, 0)
	bob := findAddrForShard(t, c, 0, alice)

	shard, _ := c.shardFor(0)
	shard.Credit(alice, 1000, 1)

	applied, err := c.SubmitTransfer(alice, bob, 300, 1, time.Unix(10, 0))
	if err != nil {
		t.Fatalf("intra-shard transfer failed: %v", err)
	}
	if applied.Amount != 300 {
		t.Fatalf("expected amount 300, got %d", applied.Amount)
	}
	stats := c.GetCrossShardStats()
	if stats.Pending+stats.Locked+stats.Committed != 0 {
		t.Fatal("intra-shard transfer should not touch the cross-shard queue")
	}
}

func TestSubmitTransferCrossShardCommits(t *testing.T) {
	c := newTestCoordinator()
	alice := findAddrForShard(t, c, 0)
	bob := findAddrForShard(t, c, 1)

	fromShard, _ := c.shardFor(0)
	fromShard.Credit(alice, 1000, 1)

	now := time.Unix(100, 0)
	_, err := c.SubmitTransfer(alice, bob, 250, 1, now)
	if err != nil {
		t.Fatalf("cross-shard submit failed: %v", err)
	}

	stats := c.GetCrossShardStats()
	if stats.Locked != 1 {
		t.Fatalf("expected 1 locked cross-shard tx, got %+v", stats)
	}

	c.ProcessQueue(now)

	stats = c.GetCrossShardStats()
	if stats.Committed != 1 || stats.Locked != 0 {
		t.Fatalf("expected commit to clear the lock, got %+v", stats)
	}

	toStats, err := c.GetShardStats(1)
	if err != nil {
		t.Fatal(err)
	}
	if toStats.NumAccounts != 1 {
		t.Fatalf("expected destination shard to have credited bob, got %+v", toStats)
	}
}

func TestRevertExpiredUnwindsTimedOutLock(t *testing.T) {
	c := newTestCoordinator()
	alice := findAddrForShard(t, c, 0)
	bob := findAddrForShard(t, c, 1)

	fromShard, _ := c.shardFor(0)
	fromShard.Credit(alice, 1000, 1)

	start := time.Unix(1000, 0)
	if _, err := c.SubmitTransfer(alice, bob, 400, 1, start); err != nil {
		t.Fatal(err)
	}

	// Let the queue sit unprocessed and advance past the revert window.
	late := start.Add(2 * time.Minute)
	c.RevertExpired(late)

	stats := c.GetCrossShardStats()
	if stats.Reverted != 1 || stats.Locked != 0 {
		t.Fatalf("expected the stale lock to revert, got %+v", stats)
	}

	fromStats, err := c.GetShardStats(0)
	if err != nil {
		t.Fatal(err)
	}
	if fromStats.NumAccounts != 1 {
		t.Fatalf("expected alice's balance restored on the source shard, got %+v", fromStats)
	}
}

func TestCreditSatisfiesBalanceCrediter(t *testing.T) {
	c := newTestCoordinator()
	addr := findAddrForShard(t, c, 0)

	if err := c.Credit(addr, 500); err != nil {
		t.Fatal(err)
	}
	stats, err := c.GetShardStats(0)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NumAccounts != 1 {
		t.Fatalf("expected the credited account to exist, got %+v", stats)
	}
}

func TestGetShardStatsUnmanagedShard(t *testing.T) {
	c := newTestCoordinator()
	if _, err := c.GetShardStats(7); err == nil {
		t.Fatal("expected an error for an unmanaged shard")
	}
}
