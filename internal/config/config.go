// Package config loads the node's runtime configuration from environment
// variables, following the same required-vs-defaulted pattern as the
// engine's original composition root (requireEnv/getEnvOrDefault).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec §6. All duration-like fields are
// stored as time.Duration so callers never re-derive seconds math.
type Config struct {
	// Block pipeline
	MicroblockInterval        time.Duration
	MacroblockInterval        time.Duration
	MicroblocksPerMacroblock  int
	MaxMicroblockTxs          int

	// Commit-reveal consensus
	CommitWindow            time.Duration
	RevealWindow             time.Duration
	MinRevealsRatio          float64
	MinParticipants          int
	MaxRoundTime             time.Duration
	TargetRoundTime          time.Duration
	DifficultyAdjustWindow   int

	// Reward pool engine
	RewardWindow                time.Duration
	PingSlots                   int
	PingSlotDuration             time.Duration
	PingGrace                    time.Duration
	MinReputationLight           float64
	MinReputationFullSuper       float64
	InactiveThreshold             time.Duration
	QuarantineDuration            time.Duration
	MaxFreeRestorations          int
	RestoreWindow                time.Duration
	ReactivationRequiredAfter    time.Duration
	RewardPool1InitialEmission   float64
	RewardHalvingPeriodYears     int
	RewardPool2SuperShare        float64
	RewardPool2FullShare         float64

	// Phase & activation economics
	Phase1TotalSupply      float64
	Phase1BurnThresholdRatio float64
	Phase1MaxYears         int
	Phase1BasePrice        float64
	Phase1Step             float64
	Phase1Floor            float64
	Phase2BasePrices       map[string]float64
	Phase2Multipliers      []NetworkSizeTier
	GenesisNodeCount       int
	MigrationGraceWindow   time.Duration

	// Shard coordinator
	TotalShards       uint32
	ManagedShards     []uint32
	MaxCrossShardTxs  int
	CrossShardRevertWindow time.Duration

	// Security envelope
	HardeningAuditMode bool
	DefaultAlgorithm   string
	TLSRequired        bool
	PayloadCapBytes    int64
}

// NetworkSizeTier is one row of the phase-2 multiplier table
// (`{<100k:0.5, <1M:1.0, <10M:2.0, >=10M:3.0}`).
type NetworkSizeTier struct {
	MaxActiveNodes int64 // exclusive upper bound; the last tier uses -1 for "no bound"
	Multiplier     float64
}

// Default returns the configuration implied by spec §6's defaults.
func Default() Config {
	return Config{
		MicroblockInterval:       1 * time.Second,
		MacroblockInterval:       90 * time.Second,
		MicroblocksPerMacroblock: 90,
		MaxMicroblockTxs:         50_000,

		CommitWindow:           60 * time.Second,
		RevealWindow:           30 * time.Second,
		MinRevealsRatio:        0.67,
		MinParticipants:        3,
		MaxRoundTime:           120 * time.Second,
		TargetRoundTime:        60 * time.Second,
		DifficultyAdjustWindow: 10,

		RewardWindow:              4 * time.Hour,
		PingSlots:                 240,
		PingSlotDuration:          60 * time.Second,
		PingGrace:                 30 * time.Second,
		MinReputationLight:        0.0,
		MinReputationFullSuper:    70.0,
		InactiveThreshold:         7 * 24 * time.Hour,
		QuarantineDuration:        7 * 24 * time.Hour,
		MaxFreeRestorations:       10,
		RestoreWindow:             30 * 24 * time.Hour,
		ReactivationRequiredAfter: 365 * 24 * time.Hour,
		RewardPool1InitialEmission: 251_432.34,
		RewardHalvingPeriodYears:   4,
		RewardPool2SuperShare:      0.7,
		RewardPool2FullShare:       0.3,

		Phase1TotalSupply:        1e9,
		Phase1BurnThresholdRatio: 0.9,
		Phase1MaxYears:           5,
		Phase1BasePrice:          1500,
		Phase1Step:               150,
		Phase1Floor:              150,
		Phase2BasePrices: map[string]float64{
			"Light": 5000,
			"Full":  7500,
			"Super": 10000,
		},
		Phase2Multipliers: []NetworkSizeTier{
			{MaxActiveNodes: 100_000, Multiplier: 0.5},
			{MaxActiveNodes: 1_000_000, Multiplier: 1.0},
			{MaxActiveNodes: 10_000_000, Multiplier: 2.0},
			{MaxActiveNodes: -1, Multiplier: 3.0},
		},
		GenesisNodeCount:     0, // pinned per-deployment, see DESIGN.md
		MigrationGraceWindow: 90 * 24 * time.Hour,

		TotalShards:            16,
		ManagedShards:          nil, // all shards, unless overridden
		MaxCrossShardTxs:       1000,
		CrossShardRevertWindow: 10 * time.Minute,

		HardeningAuditMode: false,
		DefaultAlgorithm:   "secp256k1",
		TLSRequired:        false,
		PayloadCapBytes:    1 << 20,
	}
}

// FromEnv overlays environment variables onto Default(), the same
// "required secrets, defaulted tunables" split as this package's
// RequireEnv/GetEnvOrDefault helpers. It never fails on a missing variable;
// it fails (with a wrapped error) on a variable set to an unparsable value,
// matching the exit-code-2 "config error" contract of spec §6.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.MicroblockInterval, err = durationEnv("QNET_MICROBLOCK_INTERVAL_SECONDS", cfg.MicroblockInterval); err != nil {
		return cfg, err
	}
	if cfg.MacroblockInterval, err = durationEnv("QNET_MACROBLOCK_INTERVAL_SECONDS", cfg.MacroblockInterval); err != nil {
		return cfg, err
	}
	if cfg.MicroblocksPerMacroblock, err = intEnv("QNET_MICROBLOCKS_PER_MACROBLOCK", cfg.MicroblocksPerMacroblock); err != nil {
		return cfg, err
	}
	if cfg.CommitWindow, err = durationEnv("QNET_COMMIT_WINDOW_SECONDS", cfg.CommitWindow); err != nil {
		return cfg, err
	}
	if cfg.RevealWindow, err = durationEnv("QNET_REVEAL_WINDOW_SECONDS", cfg.RevealWindow); err != nil {
		return cfg, err
	}
	if cfg.MinRevealsRatio, err = floatEnv("QNET_MIN_REVEALS_RATIO", cfg.MinRevealsRatio); err != nil {
		return cfg, err
	}
	if cfg.MinParticipants, err = intEnv("QNET_MIN_PARTICIPANTS", cfg.MinParticipants); err != nil {
		return cfg, err
	}
	if cfg.MaxRoundTime, err = durationEnv("QNET_MAX_ROUND_TIME_SECONDS", cfg.MaxRoundTime); err != nil {
		return cfg, err
	}
	if cfg.TargetRoundTime, err = durationEnv("QNET_TARGET_ROUND_TIME_SECONDS", cfg.TargetRoundTime); err != nil {
		return cfg, err
	}
	if cfg.DifficultyAdjustWindow, err = intEnv("QNET_DIFFICULTY_ADJUSTMENT_WINDOW", cfg.DifficultyAdjustWindow); err != nil {
		return cfg, err
	}
	if cfg.RewardWindow, err = durationEnv("QNET_REWARD_WINDOW_SECONDS", cfg.RewardWindow); err != nil {
		return cfg, err
	}
	if cfg.PingSlots, err = intEnv("QNET_PING_SLOTS", cfg.PingSlots); err != nil {
		return cfg, err
	}
	if cfg.PingSlotDuration, err = durationEnv("QNET_PING_SLOT_DURATION_SECONDS", cfg.PingSlotDuration); err != nil {
		return cfg, err
	}
	if cfg.PingGrace, err = durationEnv("QNET_PING_GRACE_SECONDS", cfg.PingGrace); err != nil {
		return cfg, err
	}
	if cfg.InactiveThreshold, err = durationEnv("QNET_INACTIVE_THRESHOLD_SECONDS", cfg.InactiveThreshold); err != nil {
		return cfg, err
	}
	if cfg.QuarantineDuration, err = durationEnv("QNET_QUARANTINE_DURATION_SECONDS", cfg.QuarantineDuration); err != nil {
		return cfg, err
	}
	if cfg.MaxFreeRestorations, err = intEnv("QNET_MAX_FREE_RESTORATIONS", cfg.MaxFreeRestorations); err != nil {
		return cfg, err
	}
	if cfg.RestoreWindow, err = durationEnv("QNET_RESTORE_WINDOW_SECONDS", cfg.RestoreWindow); err != nil {
		return cfg, err
	}
	if cfg.ReactivationRequiredAfter, err = durationEnv("QNET_REACTIVATION_REQUIRED_AFTER_SECONDS", cfg.ReactivationRequiredAfter); err != nil {
		return cfg, err
	}
	if cfg.GenesisNodeCount, err = intEnv("QNET_GENESIS_NODE_COUNT", cfg.GenesisNodeCount); err != nil {
		return cfg, err
	}
	shards, err := intEnv("QNET_TOTAL_SHARDS", int(cfg.TotalShards))
	if err != nil {
		return cfg, err
	}
	cfg.TotalShards = uint32(shards)
	if cfg.MaxCrossShardTxs, err = intEnv("QNET_MAX_CROSS_SHARD_TXS", cfg.MaxCrossShardTxs); err != nil {
		return cfg, err
	}
	cfg.HardeningAuditMode = os.Getenv("QNET_HARDENING_AUDIT_MODE") == "true"
	if v := os.Getenv("QNET_DEFAULT_ALGORITHM"); v != "" {
		cfg.DefaultAlgorithm = v
	}
	cfg.TLSRequired = os.Getenv("QNET_TLS_REQUIRED") == "true"

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return f, nil
}

// RequireEnv reads a required environment variable, returning an error
// (not exiting) so the composition root controls the process exit code.
func RequireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return val, nil
}

// GetEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func GetEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Multiplier returns the phase-2 network-size multiplier for activeNodes.
func (c Config) Multiplier(activeNodes int64) float64 {
	for _, tier := range c.Phase2Multipliers {
		if tier.MaxActiveNodes < 0 || activeNodes < tier.MaxActiveNodes {
			return tier.Multiplier
		}
	}
	return c.Phase2Multipliers[len(c.Phase2Multipliers)-1].Multiplier
}
