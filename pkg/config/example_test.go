package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/airbridge/pkg/config"
)

// ExampleLoadSendConfig loads a send config whose tables mix bare names and
// update entries.
func ExampleLoadSendConfig() {
	dir, err := os.MkdirTemp("", "airbridge-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "send.yaml")
	content := `
airtable_base_id: appExample
airtable_table_name: Projects
tables:
  - analytics.new_projects
  - table: analytics.changed_projects
    update: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.LoadSendConfig(path)
	if err != nil {
		log.Fatal(err)
	}
	for _, spec := range cfg.Tables {
		fmt.Printf("%s %s\n", spec.Table, spec.Mode())
	}

	// Output:
	// analytics.new_projects append
	// analytics.changed_projects update
}
