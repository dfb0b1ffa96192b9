package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/threadgate/threadgate/internal/core/quota"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatAccounts(reports []AccountReport) (string, error) {
	return f.encode(reports)
}

func (f *JSONFormatter) FormatLimits(report LimitsReport) (string, error) {
	return f.encode(report)
}

func (f *JSONFormatter) FormatUsage(usage *quota.Usage) (string, error) {
	return f.encode(usage)
}

func (f *JSONFormatter) encode(v interface{}) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// YAMLFormatter renders results as YAML using the JSON field names.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatAccounts(reports []AccountReport) (string, error) {
	return encodeYAML(reports)
}

func (f *YAMLFormatter) FormatLimits(report LimitsReport) (string, error) {
	return encodeYAML(report)
}

func (f *YAMLFormatter) FormatUsage(usage *quota.Usage) (string, error) {
	return encodeYAML(usage)
}

func encodeYAML(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
