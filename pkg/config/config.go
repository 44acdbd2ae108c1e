package config

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/airbridge/pkg/dispatch"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/shaper"
)

// SendConfig describes one send run: the warehouse tables to read and the
// API table they are written to.
type SendConfig struct {
	AirtableBaseID    string `yaml:"airtable_base_id" json:"airtable_base_id"`
	AirtableTableName string `yaml:"airtable_table_name" json:"airtable_table_name"`

	Tables TableList `yaml:"tables" json:"tables"`

	// FieldMappings replaces the default source columns of the named API
	// fields. An empty list stops the field from being sent.
	FieldMappings map[string][]string `yaml:"field_mappings,omitempty" json:"field_mappings,omitempty"`

	// MaxWorkers bounds concurrent warehouse queries; 0 means one per table.
	MaxWorkers int `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`
}

// TableList is the tables entry of a send config. Each item is either a bare
// table name or a {table, update} mapping.
type TableList []dispatch.TableSpec

// UnmarshalYAML accepts both item forms.
func (l *TableList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return errors.Newf(errors.ErrorTypeConfig, "tables must be a list (line %d)", value.Line)
	}

	specs := make(TableList, 0, len(value.Content))
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			specs = append(specs, dispatch.TableSpec{Table: item.Value})
		case yaml.MappingNode:
			var spec dispatch.TableSpec
			if err := item.Decode(&spec); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "invalid table entry").
					WithDetail("line", item.Line)
			}
			specs = append(specs, spec)
		default:
			return errors.Newf(errors.ErrorTypeConfig, "invalid table entry (line %d)", item.Line)
		}
	}
	*l = specs
	return nil
}

// LoadSendConfig reads and validates a send config file.
func LoadSendConfig(path string) (*SendConfig, error) {
	var cfg SendConfig
	if err := Load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *SendConfig) Validate() error {
	if strings.TrimSpace(c.AirtableBaseID) == "" {
		return errors.New(errors.ErrorTypeValidation, "airtable_base_id is required")
	}
	if strings.TrimSpace(c.AirtableTableName) == "" {
		return errors.New(errors.ErrorTypeValidation, "airtable_table_name is required")
	}
	if len(c.Tables) == 0 {
		return errors.New(errors.ErrorTypeValidation, "at least one table is required")
	}
	for i, spec := range c.Tables {
		if strings.TrimSpace(spec.Table) == "" {
			return errors.Newf(errors.ErrorTypeValidation, "table %d has no name", i)
		}
	}
	if c.MaxWorkers < 0 {
		return errors.New(errors.ErrorTypeValidation, "max_workers cannot be negative")
	}
	return nil
}

// Mappings returns the default mappings for fieldNames with the configured
// overrides applied.
func (c *SendConfig) Mappings(fieldNames []string) shaper.FieldMappings {
	m := shaper.DefaultFieldMappings(fieldNames)
	for field, columns := range c.FieldMappings {
		m.Override(field, columns...)
	}
	return m
}
