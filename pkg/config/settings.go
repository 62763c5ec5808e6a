package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/pkg/config/configstore"
	"github.com/andrej220/provchain/pkg/executor"
	"github.com/andrej220/provchain/pkg/machine"
	"github.com/andrej220/provchain/pkg/plan"
	"github.com/andrej220/provchain/pkg/steps"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SSHSettings tune the remote command runner. Zero values fall back to the
// executor defaults; CommandTimeout 0 disables the per-command timeout.
type SSHSettings struct {
	DialTimeout    time.Duration `yaml:"dialTimeout" json:"dialTimeout" bson:"dialTimeout" validate:"min=0"`
	CommandTimeout time.Duration `yaml:"commandTimeout" json:"commandTimeout" bson:"commandTimeout" validate:"min=0"`
	DialRetries    int           `yaml:"dialRetries" json:"dialRetries" bson:"dialRetries" validate:"min=0,max=10"`
	SudoPrefix     string        `yaml:"sudoPrefix" json:"sudoPrefix" bson:"sudoPrefix"`
	MaxFailures    uint32        `yaml:"maxFailures" json:"maxFailures" bson:"maxFailures"`
	OpenTimeout    time.Duration `yaml:"openTimeout" json:"openTimeout" bson:"openTimeout" validate:"min=0"`
}

// Settings is the provisioning configuration shared by the CLI and the
// provisioner service.
type Settings struct {
	BuildDir  string            `yaml:"buildDir" json:"buildDir" bson:"buildDir" validate:"required"`
	SSH       SSHSettings       `yaml:"ssh" json:"ssh" bson:"ssh"`
	Machines  machine.Inventory `yaml:"machines" json:"machines" bson:"machines" validate:"required,min=1"`
	Plan      *plan.Plan        `yaml:"plan,omitempty" json:"plan,omitempty" bson:"plan,omitempty" validate:"-"`
	ReportDir string            `yaml:"reportDir" json:"reportDir" bson:"reportDir"`
}

// LoadSettings reads settings from store, applies defaults and validates them.
func LoadSettings(store configstore.ConfigStore) (*Settings, error) {
	s := &Settings{}
	if err := store.Load(s); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyDefaults fills in the default plan and report directory.
func (s *Settings) ApplyDefaults() {
	if s.Plan == nil {
		s.Plan = plan.Default()
	}
	if s.ReportDir == "" {
		s.ReportDir = "."
	}
}

// Validate checks the settings, every machine and the plan against the
// default step registry.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := executor.CheckPath(s.BuildDir); err != nil {
		return fmt.Errorf("invalid settings: buildDir: %w", err)
	}
	if err := s.Machines.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Plan == nil {
		return errors.New("invalid settings: no plan")
	}
	if err := plan.Validate(s.Plan, steps.NewRegistry()); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// ExecutorConfig converts the SSH settings into dialer and runner options.
func (s *Settings) ExecutorConfig(logger lg.Logger) (executor.ResilienceConfig, executor.Options) {
	rc := executor.DefaultResilienceConfig()
	if s.SSH.DialTimeout > 0 {
		rc.DialTimeout = s.SSH.DialTimeout
	}
	rc.DialRetries = s.SSH.DialRetries
	if s.SSH.MaxFailures > 0 {
		rc.MaxFailures = s.SSH.MaxFailures
	}
	if s.SSH.OpenTimeout > 0 {
		rc.OpenTimeout = s.SSH.OpenTimeout
	}
	return rc, executor.Options{
		CommandTimeout: s.SSH.CommandTimeout,
		SudoPrefix:     s.SSH.SudoPrefix,
		Logger:         logger,
	}
}

// NewRunner builds the SSH runner described by the settings.
func (s *Settings) NewRunner(logger lg.Logger) *executor.SSHRunner {
	rc, opts := s.ExecutorConfig(logger)
	return executor.NewSSHRunner(executor.NewSSHDialer(rc), opts)
}
