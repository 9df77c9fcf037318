package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// trustedDomainsYAML represents the structure of a trusted-domains file:
//
//	domains:
//	  nature.com: 0.95
//	  example.org: 0.6
type trustedDomainsYAML struct {
	Domains map[string]float64 `yaml:"domains"`
}

// LoadTrustedDomains loads per-domain credibility overrides from a YAML
// file. An empty path yields no overrides; scores outside [0,1] are
// rejected so a typo cannot silently skew verification verdicts.
func LoadTrustedDomains(filePath string) (map[string]float64, error) {
	if filePath == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadTrustedDomains: %w", err)
	}

	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadTrustedDomains: read %s: %w", absPath, err)
	}

	var parsed trustedDomainsYAML
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("op=config.LoadTrustedDomains: parse %s: %w", absPath, err)
	}

	for domain, score := range parsed.Domains {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("op=config.LoadTrustedDomains: domain %q score %v outside [0,1]", domain, score)
		}
	}
	return parsed.Domains, nil
}
