package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/activation"
	"github.com/aiqnetlab/qnet-node/internal/api"
	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/consensus"
	"github.com/aiqnetlab/qnet-node/internal/db"
	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/aiqnetlab/qnet-node/internal/pipeline"
	"github.com/aiqnetlab/qnet-node/internal/reputation"
	"github.com/aiqnetlab/qnet-node/internal/rewards"
	"github.com/aiqnetlab/qnet-node/internal/security"
	"github.com/aiqnetlab/qnet-node/internal/shard"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Exit codes (spec §6): 0 clean shutdown, 1 fatal init error (storage
// unreachable, schema init or RPC server failure), 2 config error,
// 4 signature backend unavailable in hardening-audit-mode. Code 3
// (persistence corruption) is not produced by this binary.
const (
	exitOK               = 0
	exitConfigError      = 2
	exitStorageError     = 1
	exitSignatureFatal   = 4
)

func main() {
	log.Println("Starting QNet consensus-and-execution node...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(exitConfigError)
	}

	nodeIDHex := requireEnv("QNET_NODE_ID")
	nodeIDHash, err := chainhash.NewHashFromStr(nodeIDHex)
	if err != nil {
		log.Printf("FATAL: invalid QNET_NODE_ID: %v", err)
		os.Exit(exitConfigError)
	}
	self := models.NodeID(*nodeIDHash)

	launchUnix := time.Now().Unix()
	if v := os.Getenv("QNET_LAUNCH_UNIX"); v != "" {
		if parsed, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			launchUnix = parsed
		}
	}

	bus := events.New()

	// ─── Component wiring, dependency order A → G ────────────────────────
	repRegistry := reputation.New(256)
	actLedger := activation.New(cfg, repRegistry, bus, launchUnix)
	shardCoord := shard.New(cfg, bus)
	rewardEngine := rewards.New(cfg, repRegistry, bus, shardCoord, launchUnix)

	verifier := security.NewVerifier()
	if !verifier.Available(security.Algorithm(cfg.DefaultAlgorithm)) {
		if cfg.HardeningAuditMode {
			log.Printf("FATAL: configured signature algorithm %q has no registered verifier in hardening-audit-mode", cfg.DefaultAlgorithm)
			os.Exit(exitSignatureFatal)
		}
		log.Printf("WARNING: signature algorithm %q has no registered verifier; signature checks for it will fail open to rejection", cfg.DefaultAlgorithm)
	}
	consensusVerifier := security.NewConsensusVerifier(verifier, &nodeKeySource{registry: repRegistry}, security.Algorithm(cfg.DefaultAlgorithm))
	consensusEngine := consensus.New(cfg, repRegistry, consensusVerifier, bus)

	mempool := pipeline.NewQueue(cfg.MaxMicroblockTxs)
	producer := pipeline.New(cfg, bus, self, mempool, shardCoord, consensusEngine, repRegistry, actLedger, nil)

	limiter := security.NewRateLimiter(120, 20)
	nonces := security.NewNonceStore()
	envelope := security.NewEnvelope(cfg, limiter, nonces, verifier, nil, nil)

	// ─── Storage ──────────────────────────────────────────────────────
	dbURL, err := config.RequireEnv("DATABASE_URL")
	if err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(exitConfigError)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Connect(ctx, dbURL)
	if err != nil {
		log.Printf("FATAL: unable to connect to Postgres: %v", err)
		os.Exit(exitStorageError)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Printf("FATAL: schema init failed: %v", err)
		os.Exit(exitStorageError)
	}
	producer.SetStore(store)
	repRegistry.SetStore(store)
	actLedger.SetStore(store)
	shardCoord.SetStore(store)

	// ─── Egress: websocket hub bridged to the event bus ──────────────
	wsHub := api.NewHub()
	go wsHub.Run()
	api.BridgeBus(bus, wsHub)

	// ─── Background loops, one goroutine per actor ───────────────────
	stop := make(chan struct{})
	go repRegistry.RunDecayLoop(stop, cfg.RewardWindow, 0.95)
	go rewardEngine.RunBanRequestLoop(stop)
	go rewardEngine.RunWindowLoop(stop)
	go rewardEngine.RunInactivityLoop(stop, 1*time.Hour)
	go shardCoord.RunLoop(stop, 5*time.Second)
	go consensusEngine.RunLoop(stop, cfg.CommitWindow/4)
	go producer.RunLoop(stop)
	go runMetaPersistenceLoop(stop, store, actLedger, rewardEngine)

	// ─── Ingress: RPC surface ─────────────────────────────────────────
	adminToken := config.GetEnvOrDefault("QNET_ADMIN_TOKEN", "")
	router := api.SetupRouter(cfg, store, repRegistry, actLedger, consensusEngine, rewardEngine, shardCoord, mempool, envelope, wsHub, adminToken)

	port := config.GetEnvOrDefault("PORT", "8787")
	srv := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		log.Printf("QNet node RPC surface listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("FATAL: server error: %v", err)
			os.Exit(exitStorageError)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutdown signal received, draining background loops...")
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	log.Println("QNet node stopped cleanly.")
	os.Exit(exitOK)
}

// nodeKeySource adapts the reputation Registry to security.NodeKeySource.
// The registry does not itself store raw public keys (NodeID already is
// one, derived per spec §1); this seam exists so a future wallet/keystore
// integration can slot in without touching the consensus engine.
type nodeKeySource struct {
	registry *reputation.Registry
}

func (n *nodeKeySource) PublicKey(nodeID models.NodeID) ([]byte, error) {
	return nodeID[:], nil
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Printf("FATAL: required environment variable %s is not set", key)
		os.Exit(exitConfigError)
	}
	return val
}

// runMetaPersistenceLoop periodically snapshots the phase and pool state
// into the `meta` logical store (§6), the same ticker-driven actor shape
// as the other background loops; it is a snapshot writer, not the source
// of truth (that remains the in-memory Ledger/Engine), so a missed tick
// never loses correctness, only freshens the durable read-model slower.
// Each tick also runs the ledger's phase-transition check before the
// phase state is snapshotted.
func runMetaPersistenceLoop(stop <-chan struct{}, store *db.Store, actLedger *activation.Ledger, rewardEngine *rewards.Engine) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := actLedger.MaybeTransition(time.Now()); err != nil {
				log.Printf("[Activation] phase transition check failed: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := store.SetMeta(ctx, "phaseState", actLedger.PhaseState()); err != nil {
				log.Printf("[Meta] failed to persist phase state: %v", err)
			}
			if err := store.SetMeta(ctx, "poolState", rewardEngine.PoolState()); err != nil {
				log.Printf("[Meta] failed to persist pool state: %v", err)
			}
			cancel()
		}
	}
}
