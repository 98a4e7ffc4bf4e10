package run

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"gravfit/domain/core"
)

// Stage names a pipeline step that produces output files
type Stage string

const (
	StageDescriptives Stage = "descriptives"
	StageFit          Stage = "fit"
	StageGOF          Stage = "goodness_of_fit"
	StageAnova        Stage = "anova"
	StageCharts       Stage = "charts"
	StageReport       Stage = "report"
	StageCleaning     Stage = "cleaning"
)

// Input is one dataset file read by the run
type Input struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Hash core.Hash `json:"sha256"`
}

// Output is one file written by the run
type Output struct {
	DepVar string `json:"dependent_var,omitempty"`
	Stage  Stage  `json:"stage"`
	Path   string `json:"path"`
}

// DepVarSummary records what happened to one dependent variable
type DepVarSummary struct {
	DepVar       string         `json:"dependent_var"`
	Dataset      string         `json:"dataset"`
	Groups       int            `json:"groups"`
	FitFailures  map[string]int `json:"fit_failures"`
	AnovaSkipped map[string]int `json:"anova_skipped"`
	Skipped      string         `json:"skipped,omitempty"`
}

// Fingerprint identifies the determinism-relevant inputs of a run
type Fingerprint struct {
	InputHashes []core.Hash       `json:"input_hashes"`
	Settings    map[string]string `json:"settings"`
	CodeVersion string            `json:"code_version"`
	Hash        core.Hash         `json:"hash"`
}

// NewFingerprint hashes inputs, settings and code version; input order and map order do not matter
func NewFingerprint(inputs []core.Hash, settings map[string]string, codeVersion string) Fingerprint {
	return Fingerprint{
		InputHashes: inputs,
		Settings:    settings,
		CodeVersion: codeVersion,
		Hash:        computeFingerprint(inputs, settings, codeVersion),
	}
}

func computeFingerprint(inputs []core.Hash, settings map[string]string, codeVersion string) core.Hash {
	hashes := make([]string, len(inputs))
	for i, h := range inputs {
		hashes[i] = h.String()
	}
	sort.Strings(hashes)

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + settings[k]
	}

	data := fmt.Sprintf("inputs:%s|settings:%s|code:%s",
		strings.Join(hashes, ","), strings.Join(pairs, ";"), codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
