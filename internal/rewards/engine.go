// Package rewards implements the Reward Pool Engine (§4.C): the three
// reward pools, ping-slot scheduling and response bookkeeping, the
// window-boundary distribution algorithm, and the node lifecycle/anti-abuse
// state machine. It never writes NodeRecord.Status directly — it requests
// the mutation from the reputation Registry, the sole writer.
package rewards

import (
	"sort"
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

// NodeRegistry is the subset of reputation.Registry the engine depends on.
type NodeRegistry interface {
	List() []models.NodeRecord
	Get(nodeID models.NodeID) (models.NodeRecord, error)
	SetStatusAt(nodeID models.NodeID, newStatus models.NodeStatus, quarantinedUntilUnix int64, reason string, now time.Time) (models.NodeStatusChanged, error)
	RestoreFreely(nodeID models.NodeID, quarantinedUntilUnix, windowStartUnix int64) (models.NodeStatusChanged, error)
	RestorePaid(nodeID models.NodeID) (models.NodeStatusChanged, error)
	RecordPing(nodeID models.NodeID, atUnix int64) error
	ResetRestorationWindowIfExpired(nodeID models.NodeID, now time.Time, windowSeconds int64)
	BanRequests() <-chan models.BanRequest
}

// BalanceCrediter applies a reward credit to an address's on-shard balance.
// Implemented by the Shard Coordinator; kept as a narrow interface here so
// this package never imports internal/shard.
type BalanceCrediter interface {
	Credit(address models.Address, amountMinorUnits int64) error
}

// Engine is the Reward Pool Engine.
type Engine struct {
	mu sync.Mutex

	cfg       config.Config
	registry  NodeRegistry
	bus       *events.Bus
	crediter  BalanceCrediter
	scheduler *SlotScheduler

	pool       models.PoolState
	launchUnix int64
	pingLog    map[models.NodeID]models.PingResponse
}

// New creates an Engine. crediter may be nil (e.g. in tests that only
// check the arithmetic); a nil crediter just skips the on-chain credit.
func New(cfg config.Config, registry NodeRegistry, bus *events.Bus, crediter BalanceCrediter, launchUnix int64) *Engine {
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		bus:        bus,
		crediter:   crediter,
		scheduler:  NewSlotScheduler(cfg.PingSlots),
		launchUnix: launchUnix,
		pingLog:    make(map[models.NodeID]models.PingResponse),
	}
}

// PoolState returns a snapshot of the three reward pools.
func (e *Engine) PoolState() models.PoolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

// SlotFor exposes the deterministic ping-slot assignment for a node.
func (e *Engine) SlotFor(nodeID models.NodeID, nodeType models.NodeType) models.PingSlotAssignment {
	return e.scheduler.SlotFor(nodeID, nodeType)
}

// AccrueFee adds to Pool 2 (transaction fees), called as blocks apply txs.
func (e *Engine) AccrueFee(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool.Pool2Fees += amount
}

// CreditActivationPool adds a Phase-2 activation payment to Pool 3, per
// §7's "Phase-2 activation pins as a transfer to Pool 3 (not a burn)".
func (e *Engine) CreditActivationPool(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool.Pool3Activation += amount
}

// RecordPingResponse implements the ping_response ingress RPC: a node
// claims to have answered its assigned slot within window.
func (e *Engine) RecordPingResponse(resp models.PingResponse) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.WindowIndex != e.pool.WindowIndex {
		return nil // stale or future window: silently ignored, no reward either way
	}
	rec, err := e.registry.Get(resp.NodeID)
	if err != nil {
		return err
	}
	assignment := e.scheduler.SlotFor(resp.NodeID, rec.NodeType)
	if resp.Slot != assignment.Slot {
		return nil // wrong slot claimed: not an eligible response
	}
	e.pingLog[resp.NodeID] = resp
	return e.registry.RecordPing(resp.NodeID, resp.RespondedAtUnix)
}

// currentPool1Emission returns E(t): E0 halved every RewardHalvingPeriodYears.
func (e *Engine) currentPool1Emission(now time.Time) float64 {
	years := int(now.Unix()-e.launchUnix) / (365 * 24 * 3600)
	halvings := years / e.cfg.RewardHalvingPeriodYears
	emission := e.cfg.RewardPool1InitialEmission
	for i := 0; i < halvings; i++ {
		emission /= 2
	}
	return emission
}

// Distribute implements §4.C.3's window-boundary distribution algorithm.
func (e *Engine) Distribute(now time.Time) (models.WindowDistributed, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	eligible := e.eligibleNodesLocked()
	result := models.WindowDistributed{
		WindowIndex:   e.pool.WindowIndex,
		EligibleCount: len(eligible),
		Pool2Credited: map[string]float64{"Super": 0, "Full": 0, "Light": 0},
	}

	if len(eligible) == 0 {
		e.advanceWindowLocked(now, result)
		return result, nil
	}

	n := float64(len(eligible))

	pool1Available := e.pool.Pool1Base + e.currentPool1Emission(now)
	baseShare := pool1Available / n
	for _, rec := range eligible {
		e.creditLocked(rec.OwnerAddress, baseShare)
	}
	result.Pool1Credited = baseShare * n
	result.Pool1Remainder = pool1Available - result.Pool1Credited

	var supers, fulls []models.NodeRecord
	for _, rec := range eligible {
		switch rec.NodeType {
		case models.NodeTypeSuper:
			supers = append(supers, rec)
		case models.NodeTypeFull:
			fulls = append(fulls, rec)
		}
	}
	pool2Available := e.pool.Pool2Fees
	pool2SuperTotal := pool2Available * e.cfg.RewardPool2SuperShare
	pool2FullTotal := pool2Available * e.cfg.RewardPool2FullShare
	distributedPool2 := 0.0
	if len(supers) > 0 {
		perSuper := pool2SuperTotal / float64(len(supers))
		for _, rec := range supers {
			e.creditLocked(rec.OwnerAddress, perSuper)
		}
		result.Pool2Credited["Super"] = pool2SuperTotal
		distributedPool2 += pool2SuperTotal
	}
	if len(fulls) > 0 {
		perFull := pool2FullTotal / float64(len(fulls))
		for _, rec := range fulls {
			e.creditLocked(rec.OwnerAddress, perFull)
		}
		result.Pool2Credited["Full"] = pool2FullTotal
		distributedPool2 += pool2FullTotal
	}

	pool3Available := e.pool.Pool3Activation
	pool3Share := pool3Available / n
	for _, rec := range eligible {
		e.creditLocked(rec.OwnerAddress, pool3Share)
	}
	result.Pool3Credited = pool3Available

	e.pool.Pool1Base = result.Pool1Remainder
	e.pool.Pool2Fees = pool2Available - distributedPool2
	e.pool.Pool3Activation = 0

	e.advanceWindowLocked(now, result)
	return result, nil
}

func (e *Engine) advanceWindowLocked(now time.Time, result models.WindowDistributed) {
	e.pool.WindowIndex++
	e.pool.LastDistributionUnix = now.Unix()
	e.pingLog = make(map[models.NodeID]models.PingResponse)
	if e.bus != nil {
		e.bus.Publish(events.KindWindowDistributed, result)
	}
}

func (e *Engine) creditLocked(addr models.Address, amount float64) {
	if e.crediter == nil {
		return
	}
	units, err := models.ToMinorUnits(amount)
	if err != nil {
		return
	}
	_ = e.crediter.Credit(addr, units)
}

// eligibleNodesLocked implements §4.C.2's eligibility rule: Active status,
// reputation above the class threshold, and a recorded ping response this
// window. Caller must hold e.mu.
func (e *Engine) eligibleNodesLocked() []models.NodeRecord {
	var eligible []models.NodeRecord
	for _, rec := range e.registry.List() {
		if rec.Status != models.StatusActive {
			continue
		}
		threshold := e.cfg.MinReputationLight
		if rec.NodeType != models.NodeTypeLight {
			threshold = e.cfg.MinReputationFullSuper
		}
		if rec.Reputation < threshold {
			continue
		}
		if _, responded := e.pingLog[rec.NodeID]; !responded {
			continue
		}
		eligible = append(eligible, rec)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].NodeID.String() < eligible[j].NodeID.String()
	})
	return eligible
}

// PruneInactive implements the inactivity half of §4.C.4: any Active or
// Quarantined node silent beyond InactiveThreshold is Pruned.
func (e *Engine) PruneInactive(now time.Time) []models.NodeStatusChanged {
	var changes []models.NodeStatusChanged
	for _, rec := range e.registry.List() {
		if rec.Status != models.StatusActive && rec.Status != models.StatusQuarantined {
			continue
		}
		lastActive := rec.LastActiveUnix
		if lastActive == 0 {
			lastActive = rec.ActivationEpoch
		}
		if now.Unix()-lastActive < int64(e.cfg.InactiveThreshold.Seconds()) {
			continue
		}
		change, err := e.registry.SetStatusAt(rec.NodeID, models.StatusPruned, 0, "inactive", now)
		if err != nil {
			continue
		}
		changes = append(changes, change)
		if e.bus != nil {
			e.bus.Publish(events.KindNodeStatusChanged, change)
		}
	}
	return changes
}

// RestoreNode implements the mobile-friendly restoration rules in §4.C.4.
// paid indicates the caller has already collected a paid-reactivation fee
// (verified upstream); it is only consulted once the free-restore
// conditions fail.
func (e *Engine) RestoreNode(nodeID models.NodeID, now time.Time, paid bool) (models.NodeStatusChanged, error) {
	e.registry.ResetRestorationWindowIfExpired(nodeID, now, int64(e.cfg.RestoreWindow.Seconds()))

	rec, err := e.registry.Get(nodeID)
	if err != nil {
		return models.NodeStatusChanged{}, err
	}
	if rec.Status != models.StatusPruned {
		return models.NodeStatusChanged{}, notPrunedErr()
	}

	absence := now.Unix() - rec.PrunedAtUnix
	freeEligible := rec.Reputation >= 10 &&
		absence < int64(e.cfg.ReactivationRequiredAfter.Seconds()) &&
		rec.RestorationCountWindow < e.cfg.MaxFreeRestorations

	var change models.NodeStatusChanged
	if freeEligible {
		quarantinedUntil := now.Add(e.cfg.QuarantineDuration).Unix()
		change, err = e.registry.RestoreFreely(nodeID, quarantinedUntil, now.Unix())
	} else if paid {
		change, err = e.registry.RestorePaid(nodeID)
	} else {
		return models.NodeStatusChanged{}, paidRestoreRequiredErr()
	}
	if err != nil {
		return models.NodeStatusChanged{}, err
	}
	if e.bus != nil {
		e.bus.Publish(events.KindNodeStatusChanged, change)
	}
	return change, nil
}

// RunBanRequestLoop drains the registry's ban-request channel and performs
// the ban, the "Reward Pool Engine requests, A performs, this applies the
// consequence" split described in §5.
func (e *Engine) RunBanRequestLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case req, ok := <-e.registry.BanRequests():
			if !ok {
				return
			}
			change, err := e.registry.SetStatusAt(req.NodeID, models.StatusBanned, 0, string(req.Reason), time.Now())
			if err != nil {
				continue
			}
			if e.bus != nil {
				e.bus.Publish(events.KindBanRequested, req)
				e.bus.Publish(events.KindNodeStatusChanged, change)
			}
		}
	}
}

// RunWindowLoop is the window-boundary actor: a ticker at RewardWindow.
func (e *Engine) RunWindowLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.RewardWindow)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			_, _ = e.Distribute(t)
		}
	}
}

// RunInactivityLoop periodically prunes inactive nodes.
func (e *Engine) RunInactivityLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			e.PruneInactive(t)
		}
	}
}
