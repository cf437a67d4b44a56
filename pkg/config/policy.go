package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/asifgondal786/tajir/pkg/anomaly"
	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/rules"
)

// SupportedSchema is the policy file schema range this build reads.
const SupportedSchema = "^1"

// ErrUnsupportedSchema is returned for a policy file outside SupportedSchema.
var ErrUnsupportedSchema = errors.New("unsupported policy schema version")

// Policy is the deployment's governance defaults. Every section is
// optional; missing sections keep the built-in defaults.
type Policy struct {
	SchemaVersion string                    `yaml:"schema_version"`
	DefaultLevel  autonomy.Level            `yaml:"default_level"`
	Limits        contracts.RiskLimits      `yaml:"limits"`
	Budget        contracts.RiskBudget      `yaml:"risk_budget"`
	Probation     contracts.ProbationPolicy `yaml:"probation"`
	Monitor       anomaly.Monitor           `yaml:"anomaly"`
	TokenTTL      time.Duration             `yaml:"token_ttl"`
	Rules         []rules.Rule              `yaml:"rules"`
}

// DefaultPolicy returns the built-in defaults.
func DefaultPolicy() Policy {
	return Policy{
		SchemaVersion: "1.0.0",
		DefaultLevel:  autonomy.Assisted,
		Limits:        contracts.DefaultRiskLimits(),
		Budget:        contracts.DefaultRiskBudget(),
		Probation:     contracts.DefaultProbationPolicy(),
		Monitor:       anomaly.Default(),
		TokenTTL:      300 * time.Second,
	}
}

// Validate checks the schema version and every section.
func (p Policy) Validate() error {
	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedSchema, p.SchemaVersion, err)
	}
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedSchema, v, SupportedSchema)
	}

	if err := p.Limits.Validate(); err != nil {
		return err
	}
	if err := p.Budget.Validate(); err != nil {
		return err
	}
	if err := p.Probation.Validate(); err != nil {
		return err
	}
	if err := p.Monitor.Validate(); err != nil {
		return err
	}
	if p.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be > 0, got %s", p.TokenTTL)
	}
	if _, err := rules.NewEvaluator(p.Rules); err != nil {
		return err
	}
	return nil
}

// LoadPolicyFile reads a YAML policy file over the defaults. An empty path
// returns the defaults.
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("load policy %q: %w", path, err)
	}
	p.SchemaVersion = ""
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if p.SchemaVersion == "" {
		return Policy{}, fmt.Errorf("%w: %s has no schema_version", ErrUnsupportedSchema, path)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy %q: %w", path, err)
	}
	return p, nil
}
