package config

import (
	"fmt"
	"time"
)

// Settings are the runtime policies changeable through the API. They are
// stored with every snapshot.
type Settings struct {
	AutoRefresh            bool    `json:"auto_refresh" yaml:"auto_refresh"`
	RefreshIntervalMinutes int     `json:"refresh_interval_minutes" yaml:"refresh_interval_minutes" validate:"min=1,max=1440"`
	RefreshConcurrency     int     `json:"refresh_concurrency" yaml:"refresh_concurrency" validate:"min=1,max=50"`
	AutoSwitch             bool    `json:"auto_switch" yaml:"auto_switch"`
	SwitchThreshold        float64 `json:"switch_threshold" yaml:"switch_threshold" validate:"gte=0"`
	SwitchIntervalMinutes  int     `json:"switch_interval_minutes" yaml:"switch_interval_minutes" validate:"min=1,max=1440"`
	RotateIdentityOnSwitch bool    `json:"rotate_identity_on_switch" yaml:"rotate_identity_on_switch"`
	BindIdentityToAccount  bool    `json:"bind_identity_to_account" yaml:"bind_identity_to_account"`
	UseBoundIdentity       bool    `json:"use_bound_identity" yaml:"use_bound_identity"`
	AutoLaunch             bool    `json:"auto_launch" yaml:"auto_launch"`
}

// DefaultSettings enables refresh and leaves the riskier policies off.
func DefaultSettings() Settings {
	return Settings{
		AutoRefresh:            true,
		RefreshIntervalMinutes: 5,
		RefreshConcurrency:     5,
		AutoSwitch:             false,
		SwitchThreshold:        5,
		SwitchIntervalMinutes:  5,
		UseBoundIdentity:       true,
	}
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalMinutes) * time.Minute
}

func (s Settings) SwitchInterval() time.Duration {
	return time.Duration(s.SwitchIntervalMinutes) * time.Minute
}
