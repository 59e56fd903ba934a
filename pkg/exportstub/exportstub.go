// Package exportstub provides the three trivial file-writing functions the
// controller's final step calls to persist a run's artifacts (spec.md §6).
// Report formatting, CSV writers, and the dashboard feed are explicitly out
// of scope (spec.md §1: "export formatters are trivial I/O once the
// summarized metrics exist"); this package exists only so cmd/controller can
// finish a run end to end without inventing a full exporter subsystem.
package exportstub

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/aiperf/aiperf-go/pkg/model"
)

// WriteProfileJSON writes results as profile_export_aiperf.json under dir.
func WriteProfileJSON(dir string, results model.ProfileResults) error {
	return writeJSON(filepath.Join(dir, "profile_export_aiperf.json"), results)
}

// WriteInputsJSON writes one SessionPayloads entry per conversation as
// inputs.json under dir.
func WriteInputsJSON(dir string, sessions []model.SessionPayloads) error {
	return writeJSON(filepath.Join(dir, "inputs.json"), sessions)
}

// WriteRawRecordsJSONL writes one RequestRecord per line under
// dir/raw_records/raw_records_<processorID>.jsonl.
func WriteRawRecordsJSONL(dir, processorID string, records []model.RequestRecord) error {
	rawDir := filepath.Join(dir, "raw_records")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(rawDir, "raw_records_"+processorID+".jsonl"))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
