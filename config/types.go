package config

// Logging selects the log level and optional rotated log file.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	ServiceName string  `toml:"ServiceName"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Reputation overrides the reputation ledger parameters. Nil fields keep the
// built-in default; an explicit zero is applied as given.
type Reputation struct {
	WorkerMinStake    *uint64 `toml:"WorkerMinStake" yaml:"worker_min_stake"`
	ClientMinStake    *uint64 `toml:"ClientMinStake" yaml:"client_min_stake"`
	DecayRate         *uint64 `toml:"DecayRate" yaml:"decay_rate"`
	PenaltyLockWindow *uint64 `toml:"PenaltyLockWindow" yaml:"penalty_lock_window"`
	InitialScore      *uint64 `toml:"InitialScore" yaml:"initial_score"`
	MaxScore          *uint64 `toml:"MaxScore" yaml:"max_score"`
	VerificationBonus *uint64 `toml:"VerificationBonus" yaml:"verification_bonus"`
	StakeBonus        *uint64 `toml:"StakeBonus" yaml:"stake_bonus"`
	PenaltyMultiplier *uint64 `toml:"PenaltyMultiplier" yaml:"penalty_multiplier"`
	ThresholdScore    *uint64 `toml:"ThresholdScore" yaml:"threshold_score"`
	MaxPenaltyPoints  *uint64 `toml:"MaxPenaltyPoints" yaml:"max_penalty_points"`
}
