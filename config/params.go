package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"jobledger/native/reputation"
)

// ReputationParams merges the [reputation] overrides, and the YAML file named
// by ReputationFile when set, over the built-in defaults. File values win.
func (cfg *Config) ReputationParams() (reputation.Params, error) {
	params := cfg.Reputation.apply(reputation.DefaultParams())
	if path := strings.TrimSpace(cfg.ReputationFile); path != "" {
		overrides, err := LoadReputationOverrides(path)
		if err != nil {
			return reputation.Params{}, err
		}
		params = overrides.apply(params)
	}
	if err := params.Validate(); err != nil {
		return reputation.Params{}, err
	}
	return params, nil
}

// LoadReputationOverrides reads reputation overrides from a YAML file.
func LoadReputationOverrides(path string) (Reputation, error) {
	var out Reputation
	file, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("open reputation params: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&out); err != nil {
		return Reputation{}, fmt.Errorf("decode reputation params: %w", err)
	}
	return out, nil
}

// LoadReputationParams reads a YAML override file and applies it to the
// defaults.
func LoadReputationParams(path string) (reputation.Params, error) {
	overrides, err := LoadReputationOverrides(path)
	if err != nil {
		return reputation.Params{}, err
	}
	params := overrides.apply(reputation.DefaultParams())
	if err := params.Validate(); err != nil {
		return reputation.Params{}, err
	}
	return params, nil
}

func (r Reputation) apply(p reputation.Params) reputation.Params {
	set := func(dst *uint64, v *uint64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.WorkerMinStake, r.WorkerMinStake)
	set(&p.ClientMinStake, r.ClientMinStake)
	set(&p.DecayRate, r.DecayRate)
	set(&p.PenaltyLockWindow, r.PenaltyLockWindow)
	set(&p.InitialScore, r.InitialScore)
	set(&p.MaxScore, r.MaxScore)
	set(&p.VerificationBonus, r.VerificationBonus)
	set(&p.StakeBonus, r.StakeBonus)
	set(&p.PenaltyMultiplier, r.PenaltyMultiplier)
	set(&p.ThresholdScore, r.ThresholdScore)
	set(&p.MaxPenaltyPoints, r.MaxPenaltyPoints)
	return p
}

// ParseAllocations converts the hex address to decimal amount map into the
// genesis credits handed to the node.
func (cfg *Config) ParseAllocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(cfg.Allocations))
	for rawAddr, rawAmount := range cfg.Allocations {
		addr := strings.TrimSpace(rawAddr)
		if !ethcommon.IsHexAddress(addr) {
			return nil, fmt.Errorf("allocations: invalid address %q", rawAddr)
		}
		amount, err := parseUintAmount(rawAmount)
		if err != nil {
			return nil, fmt.Errorf("allocations: %s: %w", addr, err)
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("allocations: %s: amount must be positive", addr)
		}
		key := [20]byte(ethcommon.HexToAddress(addr))
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("allocations: duplicate address %s", addr)
		}
		out[key] = amount
	}
	return out, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
