package run

import (
	"encoding/json"
	"fmt"
	"time"

	"gravfit/domain/core"
)

// ManifestFileName is written at the top of the results directory
const ManifestFileName = "run_manifest.json"

// Manifest is the record of one pipeline invocation: what went in, how it was configured,
// and what came out
type Manifest struct {
	RunID       core.RunID      `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
	Models      []string        `json:"models"`
	DepVars     []string        `json:"dependent_vars"`
	Inputs      []Input         `json:"inputs"`
	Outputs     []Output        `json:"outputs"`
	Summaries   []DepVarSummary `json:"summaries"`
	Fingerprint Fingerprint     `json:"fingerprint"`
}

// NewManifest starts a manifest for a fresh run id
func NewManifest(models, depVars []string, now time.Time) *Manifest {
	return &Manifest{
		RunID:     core.NewRunID(),
		StartedAt: now.UTC(),
		Models:    models,
		DepVars:   depVars,
	}
}

// AddInput records a dataset file once per path
func (m *Manifest) AddInput(in Input) {
	for _, existing := range m.Inputs {
		if existing.Path == in.Path {
			return
		}
	}
	m.Inputs = append(m.Inputs, in)
}

// AddOutput records a written file
func (m *Manifest) AddOutput(depVar string, stage Stage, path string) {
	m.Outputs = append(m.Outputs, Output{DepVar: depVar, Stage: stage, Path: path})
}

// Finish stamps the end time and computes the fingerprint
func (m *Manifest) Finish(settings map[string]string, codeVersion string, now time.Time) {
	hashes := make([]core.Hash, len(m.Inputs))
	for i, in := range m.Inputs {
		hashes[i] = in.Hash
	}
	m.Fingerprint = NewFingerprint(hashes, settings, codeVersion)
	m.FinishedAt = now.UTC()
}

// Validate checks that the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return fmt.Errorf("run manifest: run_id cannot be empty")
	}
	if len(m.Models) == 0 {
		return fmt.Errorf("run manifest: no models")
	}
	if len(m.DepVars) == 0 {
		return fmt.Errorf("run manifest: no dependent variables")
	}
	for _, in := range m.Inputs {
		if in.Hash.IsEmpty() {
			return fmt.Errorf("run manifest: input %s has no hash", in.Path)
		}
	}
	return nil
}

// Marshal renders the manifest as indented JSON
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
