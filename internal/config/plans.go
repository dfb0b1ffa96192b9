package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlansDocument is the on-disk shape of quota.plans_file.
//
//	plans:
//	  free:
//	    daily_operations: 3
//	    daily_spend: 0.5
//	    monthly_spend: 5
type PlansDocument struct {
	Plans map[string]PlanSpec `yaml:"plans"`
}

// LoadPlansFile reads tier limits from a YAML document. Unknown keys are
// rejected so a typo cannot silently drop a cap.
func LoadPlansFile(path string) (map[string]PlanSpec, error) {
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes a PlansDocument and normalizes tier names.
func ParsePlans(data []byte) (map[string]PlanSpec, error) {
	var doc PlansDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("plans file defines no plans")
	}

	out := make(map[string]PlanSpec, len(doc.Plans))
	for tier, spec := range doc.Plans {
		tier = strings.ToLower(strings.TrimSpace(tier))
		if tier == "" {
			return nil, fmt.Errorf("plans file contains an empty tier name")
		}
		out[tier] = spec
	}
	return out, nil
}

// MarshalPlans renders plans in the plans file format.
func MarshalPlans(plans map[string]PlanSpec) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(PlansDocument{Plans: plans}); err != nil {
		return nil, fmt.Errorf("encode plans: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode plans: %w", err)
	}
	return buf.Bytes(), nil
}
