package activation

import (
	"testing"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/internal/reputation"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

func nodeID(b byte) models.NodeID {
	var id models.NodeID
	id[0] = b
	return id
}

func newLedger(cfg config.Config) (*Ledger, *reputation.Registry) {
	reg := reputation.New(0)
	return New(cfg, reg, nil, 0), reg
}

// TestRecordActivationPhase1Pricing exercises the spec scenario: burn
// ratio 0.30 ⇒ price = max(1500 - floor(0.30*10)*150, 150) = 1050.
func TestRecordActivationPhase1Pricing(t *testing.T) {
	cfg := config.Default()
	cfg.Phase1TotalSupply = 1_000_000

	ledger, _ := newLedger(cfg)
	ledger.phase.Phase1TotalBurned = 300_000 // ratio 0.30

	entry := models.ActivationEntry{
		NodeID:       nodeID(1),
		NodeType:     models.NodeTypeLight,
		OwnerAddress: "owner-a",
		Proof:        "burn-tx-1",
		PaidAmount:   1050,
		Timestamp:    time.Unix(1000, 0),
	}
	if _, err := ledger.RecordActivation(entry); err != nil {
		t.Fatalf("expected payment of 1050 to be accepted: %v", err)
	}
}

func TestRecordActivationInsufficientPayment(t *testing.T) {
	cfg := config.Default()
	cfg.Phase1TotalSupply = 1_000_000

	ledger, _ := newLedger(cfg)
	ledger.phase.Phase1TotalBurned = 300_000 // ratio 0.30

	entry := models.ActivationEntry{
		NodeID:       nodeID(2),
		NodeType:     models.NodeTypeLight,
		OwnerAddress: "owner-b",
		Proof:        "burn-tx-2",
		PaidAmount:   1049,
		Timestamp:    time.Unix(1000, 0),
	}
	_, err := ledger.RecordActivation(entry)
	qerr, ok := err.(*qnerr.Error)
	if !ok || qerr.Kind != qnerr.InsufficientPayment {
		t.Fatalf("expected InsufficientPayment, got %v", err)
	}
	if qerr.Fields["required"] != 1050.0 || qerr.Fields["given"] != 1049.0 {
		t.Fatalf("expected required=1050 given=1049, got %+v", qerr.Fields)
	}
}

func TestRecordActivationDuplicateProof(t *testing.T) {
	cfg := config.Default()
	ledger, _ := newLedger(cfg)

	entry := models.ActivationEntry{
		NodeID: nodeID(3), NodeType: models.NodeTypeLight, OwnerAddress: "owner-c",
		Proof: "dup", PaidAmount: cfg.Phase1BasePrice, Timestamp: time.Unix(1, 0),
	}
	if _, err := ledger.RecordActivation(entry); err != nil {
		t.Fatal(err)
	}
	entry.NodeID = nodeID(4)
	entry.OwnerAddress = "owner-d"
	_, err := ledger.RecordActivation(entry)
	if !qnerr.Is(err, qnerr.DuplicateProof) {
		t.Fatalf("expected DuplicateProof, got %v", err)
	}
}

func TestRecordActivationOwnerAlreadyActive(t *testing.T) {
	cfg := config.Default()
	ledger, _ := newLedger(cfg)

	first := models.ActivationEntry{
		NodeID: nodeID(5), NodeType: models.NodeTypeLight, OwnerAddress: "owner-e",
		Proof: "p1", PaidAmount: cfg.Phase1BasePrice, Timestamp: time.Unix(1, 0),
	}
	if _, err := ledger.RecordActivation(first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.NodeID = nodeID(6)
	second.Proof = "p2"
	_, err := ledger.RecordActivation(second)
	if !qnerr.Is(err, qnerr.OwnerAlreadyActive) {
		t.Fatalf("expected OwnerAlreadyActive, got %v", err)
	}
}

func TestRecordActivationGenesisWhitelist(t *testing.T) {
	cfg := config.Default()
	cfg.GenesisNodeCount = 1
	ledger, _ := newLedger(cfg)

	genesis := models.ActivationEntry{
		NodeID: nodeID(7), NodeType: models.NodeTypeSuper, OwnerAddress: "owner-f",
		Proof: models.Proof(models.GenesisProofPrefix + "1"), PaidAmount: 0, Timestamp: time.Unix(1, 0),
	}
	if _, err := ledger.RecordActivation(genesis); err != nil {
		t.Fatalf("expected genesis entry to be admitted with zero payment: %v", err)
	}

	second := genesis
	second.NodeID = nodeID(8)
	second.OwnerAddress = "owner-g"
	second.Proof = models.Proof(models.GenesisProofPrefix + "2")
	_, err := ledger.RecordActivation(second)
	if !qnerr.Is(err, qnerr.QuotaExceeded) {
		t.Fatalf("expected QuotaExceeded once genesis whitelist is exhausted, got %v", err)
	}
}

// TestMaybeTransitionBurnRatioBoundary exercises the exactly-0.9 boundary
// from spec §8: burn_ratio == 0.9 triggers the transition.
func TestMaybeTransitionBurnRatioBoundary(t *testing.T) {
	cfg := config.Default()
	cfg.Phase1TotalSupply = 1_000_000
	ledger, _ := newLedger(cfg)
	ledger.phase.Phase1TotalBurned = 900_000 // exactly 0.9

	tr, err := ledger.MaybeTransition(time.Unix(100, 0))
	if err != nil {
		t.Fatal(err)
	}
	if tr == nil {
		t.Fatal("expected burn ratio of exactly 0.9 to trigger the transition")
	}
	if tr.Reason != "burn_threshold" {
		t.Fatalf("expected burn_threshold reason, got %q", tr.Reason)
	}
	if ledger.PhaseState().Phase != models.Phase2 {
		t.Fatal("expected ledger to have moved to Phase2")
	}

	// Idempotent: calling again does nothing.
	tr2, err := ledger.MaybeTransition(time.Unix(200, 0))
	if err != nil {
		t.Fatal(err)
	}
	if tr2 != nil {
		t.Fatal("expected MaybeTransition to be a no-op once already transitioned")
	}
}

func TestMaybeTransitionMaxYears(t *testing.T) {
	cfg := config.Default()
	cfg.Phase1TotalSupply = 1_000_000
	ledger, _ := newLedger(cfg)
	fiveYears := int64(5 * 365 * 24 * 3600)
	ledger.phase.Phase1LaunchUnix = 0

	tr, err := ledger.MaybeTransition(time.Unix(fiveYears, 0))
	if err != nil {
		t.Fatal(err)
	}
	if tr == nil || tr.Reason != "max_years" {
		t.Fatalf("expected max_years transition, got %+v", tr)
	}
}

func TestMigratePhase1NodeWithinGraceWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Phase1TotalSupply = 1_000_000
	ledger, _ := newLedger(cfg)
	ledger.phase.Phase1TotalBurned = 900_000

	entry := models.ActivationEntry{
		NodeID: nodeID(9), NodeType: models.NodeTypeFull, OwnerAddress: "owner-h",
		Proof: "p9", PaidAmount: cfg.Phase1BasePrice, Timestamp: time.Unix(1, 0),
	}
	if _, err := ledger.RecordActivation(entry); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.MaybeTransition(time.Unix(1000, 0)); err != nil {
		t.Fatal(err)
	}

	if err := ledger.MigratePhase1Node(entry.NodeID, time.Unix(1000+3600, 0)); err != nil {
		t.Fatalf("expected migration within grace window to succeed: %v", err)
	}
	if err := ledger.MigratePhase1Node(entry.NodeID, time.Unix(1000+3600, 0)); !qnerr.Is(err, qnerr.DuplicateProof) {
		t.Fatalf("expected re-migration to collide on the MIGRATION_ proof, got %v", err)
	}
}

func TestMigratePhase1NodeAfterGraceWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Phase1TotalSupply = 1_000_000
	ledger, _ := newLedger(cfg)
	ledger.phase.Phase1TotalBurned = 900_000

	entry := models.ActivationEntry{
		NodeID: nodeID(10), NodeType: models.NodeTypeFull, OwnerAddress: "owner-i",
		Proof: "p10", PaidAmount: cfg.Phase1BasePrice, Timestamp: time.Unix(1, 0),
	}
	if _, err := ledger.RecordActivation(entry); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.MaybeTransition(time.Unix(1000, 0)); err != nil {
		t.Fatal(err)
	}

	tooLate := time.Unix(1000, 0).Add(cfg.MigrationGraceWindow + time.Hour)
	if err := ledger.MigratePhase1Node(entry.NodeID, tooLate); !qnerr.Is(err, qnerr.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded past the grace window, got %v", err)
	}
}

func TestMigratePhase1NodeBeforeTransition(t *testing.T) {
	cfg := config.Default()
	ledger, _ := newLedger(cfg)
	if err := ledger.MigratePhase1Node(nodeID(11), time.Unix(1, 0)); !qnerr.Is(err, qnerr.WrongPhase) {
		t.Fatalf("expected WrongPhase before any transition, got %v", err)
	}
}
