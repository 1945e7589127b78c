package config

import "time"

// BusConfig holds the event bus's tunables (spec.md §4.2).
type BusConfig struct {
	Partitions     int
	ChannelSize    int
	BatchSize      int
	CoalesceDelay  time.Duration
}

// RuntimeConfig holds the predicate runtime's resource ceilings (spec.md §4.3).
type RuntimeConfig struct {
	InstancePoolSize  int
	MemoryLimitBytes  int64
	CPUBudget         int64
	InstanceTimeout   time.Duration
}

// NFAConfig holds the sequence engine's quota and eviction tunables (spec.md §4.4).
type NFAConfig struct {
	MaxPartialMatchesTotal   int
	MaxMatchesPerEntity      int
	MaxMatchesPerSequence    int
	TTLCheckInterval         time.Duration
	Shards                   int
}

// ReplayConfig holds the deterministic-replay substrate's settings (spec.md §5).
type ReplayConfig struct {
	Enabled           bool
	LogPath           string
	DeterministicTime bool
}

// KestrelConfig is the fully-resolved, typed configuration for a Kestrel
// instance, built by reading the bus/runtime/nfa/replay sections out of a
// generic Config the way the teacher's call sites read typed accessors off
// their flat Config rather than unmarshaling into structs directly.
type KestrelConfig struct {
	Bus     BusConfig
	Runtime RuntimeConfig
	NFA     NFAConfig
	Replay  ReplayConfig
}

// Defaults returns the baseline KestrelConfig used when no configuration
// file is supplied, chosen to match spec.md §6's stated defaults.
func Defaults() KestrelConfig {
	return KestrelConfig{
		Bus: BusConfig{
			Partitions:    16,
			ChannelSize:   4096,
			BatchSize:     64,
			CoalesceDelay: 2 * time.Millisecond,
		},
		Runtime: RuntimeConfig{
			InstancePoolSize: 32,
			MemoryLimitBytes: 16 * 1024 * 1024,
			CPUBudget:        1_000_000,
			InstanceTimeout:  50 * time.Millisecond,
		},
		NFA: NFAConfig{
			MaxPartialMatchesTotal: 1_000_000,
			MaxMatchesPerEntity:    1_000,
			MaxMatchesPerSequence:  100_000,
			TTLCheckInterval:       30 * time.Second,
			Shards:                 32,
		},
		Replay: ReplayConfig{
			Enabled:           false,
			LogPath:           "",
			DeterministicTime: false,
		},
	}
}

// Load resolves a KestrelConfig by overlaying values found in cfg on top of
// Defaults(), reading the bus/runtime/nfa/replay sections by name.
func Load(cfg Config) KestrelConfig {
	out := Defaults()

	bus := cfg.Section("bus")
	out.Bus.Partitions = bus.Int("partitions", out.Bus.Partitions)
	out.Bus.ChannelSize = bus.Int("channel_size", out.Bus.ChannelSize)
	out.Bus.BatchSize = bus.Int("batch_size", out.Bus.BatchSize)
	out.Bus.CoalesceDelay = time.Duration(bus.Int64("coalesce_delay_ns", int64(out.Bus.CoalesceDelay)))

	rt := cfg.Section("runtime")
	out.Runtime.InstancePoolSize = rt.Int("instance_pool_size", out.Runtime.InstancePoolSize)
	out.Runtime.MemoryLimitBytes = rt.Int64("memory_limit_bytes", out.Runtime.MemoryLimitBytes)
	out.Runtime.CPUBudget = rt.Int64("cpu_budget", out.Runtime.CPUBudget)
	out.Runtime.InstanceTimeout = time.Duration(rt.Int64("instance_timeout_ms", out.Runtime.InstanceTimeout.Milliseconds())) * time.Millisecond

	nfa := cfg.Section("nfa")
	out.NFA.MaxPartialMatchesTotal = nfa.Int("max_partial_matches_total", out.NFA.MaxPartialMatchesTotal)
	out.NFA.MaxMatchesPerEntity = nfa.Int("max_matches_per_entity", out.NFA.MaxMatchesPerEntity)
	out.NFA.MaxMatchesPerSequence = nfa.Int("max_matches_per_sequence", out.NFA.MaxMatchesPerSequence)
	out.NFA.TTLCheckInterval = time.Duration(nfa.Int64("ttl_check_interval_ns", int64(out.NFA.TTLCheckInterval)))
	out.NFA.Shards = nfa.Int("shards", out.NFA.Shards)

	replay := cfg.Section("replay")
	out.Replay.Enabled = replay.Bool("enabled", out.Replay.Enabled)
	out.Replay.LogPath = replay.String("log_path", out.Replay.LogPath)
	out.Replay.DeterministicTime = replay.Bool("deterministic_time", out.Replay.DeterministicTime)

	return out
}
