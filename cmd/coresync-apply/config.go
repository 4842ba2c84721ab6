package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// replayManifest is an optional YAML alternative to passing every flag on
// the command line, grounded on the teacher's `warren apply -f
// service.yaml` resource manifest (cmd/warren/apply.go): same
// apiVersion/kind/metadata envelope around a spec block, trimmed to this
// tool's one resource kind.
type replayManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Spec       struct {
		Realm         string `yaml:"realm"`
		Input         string `yaml:"input"`
		EncryptionKey string `yaml:"encryptionKey"`
		FLX           bool   `yaml:"flx"`
		Verbose       bool   `yaml:"verbose"`
	} `yaml:"spec"`
}

const replayManifestKind = "ReplayJob"

// loadReplayManifest reads and validates a manifest file. Unlike the
// teacher's apply.go, which accepts any Kind and hands the spec block to a
// generic reconciler, this tool only ever applies one kind of resource.
func loadReplayManifest(path string) (*replayManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var m replayManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m.Kind != "" && m.Kind != replayManifestKind {
		return nil, fmt.Errorf("config %s: unsupported kind %q, want %q", path, m.Kind, replayManifestKind)
	}
	return &m, nil
}

// applyManifestDefaults fills any flag the caller left at its zero value
// from the manifest, so `--config` supplies defaults a command-line flag
// can still override.
func applyManifestDefaults(m *replayManifest, realmPath, inputPath, keyPath *string, flx, verbose *bool) {
	if *realmPath == "" {
		*realmPath = m.Spec.Realm
	}
	if *inputPath == "" {
		*inputPath = m.Spec.Input
	}
	if *keyPath == "" {
		*keyPath = m.Spec.EncryptionKey
	}
	if !*flx {
		*flx = m.Spec.FLX
	}
	if !*verbose {
		*verbose = m.Spec.Verbose
	}
}
