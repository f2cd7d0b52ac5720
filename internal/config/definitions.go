package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/akmatori/contractmon/internal/models"
)

// ContractDefinition is one entry of the contract definitions file:
// a resolved contract plus its optional monitoring overrides
type ContractDefinition struct {
	Contract   models.Contract `yaml:",inline" json:"contract"`
	Monitoring *Overrides      `yaml:"monitoring" json:"monitoring,omitempty"`
}

type definitionsFile struct {
	Contracts []ContractDefinition `yaml:"contracts"`
}

// LoadContractDefinitions reads contract definitions from a YAML file
func LoadContractDefinitions(filePath string) ([]ContractDefinition, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract definitions: %w", err)
	}
	return ParseContractDefinitions(data)
}

// ParseContractDefinitions decodes and validates contract definitions
func ParseContractDefinitions(data []byte) ([]ContractDefinition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse contract definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Contracts))
	for _, def := range file.Contracts {
		if err := def.Contract.Validate(); err != nil {
			return nil, err
		}
		if seen[def.Contract.Name] {
			return nil, fmt.Errorf("contract %s defined more than once", def.Contract.Name)
		}
		seen[def.Contract.Name] = true
	}
	return file.Contracts, nil
}

// EffectiveConfig merges the definition's overrides onto the global config and validates the result
func (d ContractDefinition) EffectiveConfig(global MonitoringConfig) (MonitoringConfig, error) {
	cfg := global.Merge(d.Monitoring)
	if err := cfg.Validate(); err != nil {
		return MonitoringConfig{}, fmt.Errorf("contract %s: %w", d.Contract.Name, err)
	}
	return cfg, nil
}
