// Package release reads the tag-triggered release workflow and checks the
// contract it must keep: one job per tag push, four ordered steps, a
// release-mode build and a fixed asset name.
package release

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// AssetName is the literal name of the uploaded binary.
const AssetName = "rarscan"

// Workflow is the subset of a GitHub Actions workflow the checks need.
type Workflow struct {
	Name        string            `yaml:"name"`
	On          Trigger           `yaml:"on"`
	Permissions map[string]string `yaml:"permissions"`
	Jobs        map[string]Job    `yaml:"jobs"`
}

// Trigger holds the workflow's events.
type Trigger struct {
	Push struct {
		Tags     []string `yaml:"tags"`
		Branches []string `yaml:"branches"`
	} `yaml:"push"`
}

// Job is one workflow job.
type Job struct {
	RunsOn string `yaml:"runs-on"`
	Steps  []Step `yaml:"steps"`
}

// Step is one job step.
type Step struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses"`
	Run  string            `yaml:"run"`
	With map[string]string `yaml:"with"`
}

// Load parses the workflow file at path.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	return &w, nil
}

// Validate returns every way the workflow breaks the release contract,
// joined into one error, or nil.
func (w *Workflow) Validate() error {
	var errs []error
	if len(w.On.Push.Tags) != 1 || w.On.Push.Tags[0] != "*" {
		errs = append(errs, fmt.Errorf("trigger must be push of tags '*', got %v", w.On.Push.Tags))
	}
	if len(w.On.Push.Branches) != 0 {
		errs = append(errs, errors.New("trigger must not include branch pushes"))
	}
	if w.Permissions["contents"] != "write" {
		errs = append(errs, errors.New("permissions.contents must be write"))
	}
	if len(w.Jobs) != 1 {
		errs = append(errs, fmt.Errorf("expected exactly one job, got %d", len(w.Jobs)))
		return errors.Join(errs...)
	}
	for name, job := range w.Jobs {
		if !strings.HasPrefix(job.RunsOn, "ubuntu") {
			errs = append(errs, fmt.Errorf("job %s must run on a Linux runner, got %q", name, job.RunsOn))
		}
		errs = append(errs, validateSteps(job.Steps)...)
	}
	return errors.Join(errs...)
}

func validateSteps(steps []Step) []error {
	if len(steps) != 4 {
		return []error{fmt.Errorf("expected 4 steps, got %d", len(steps))}
	}
	var errs []error
	if !strings.HasPrefix(steps[0].Uses, "actions/checkout@") {
		errs = append(errs, fmt.Errorf("step 1 must be checkout, got %q", steps[0].Uses))
	}
	if !strings.HasPrefix(steps[1].Uses, "actions/setup-go@") {
		errs = append(errs, fmt.Errorf("step 2 must set up the toolchain, got %q", steps[1].Uses))
	}
	build := steps[2].Run
	if !strings.Contains(build, "go build") {
		errs = append(errs, errors.New("step 3 must run go build"))
	}
	if !strings.Contains(build, "-trimpath") || !strings.Contains(build, "-s -w") {
		errs = append(errs, errors.New("step 3 must build in release mode (-trimpath, -s -w)"))
	}
	if strings.Contains(build, "-race") || strings.Contains(build, `-gcflags`) {
		errs = append(errs, errors.New("step 3 must not build with debug flags"))
	}
	upload := steps[3]
	if upload.Uses == "" {
		errs = append(errs, errors.New("step 4 must upload the asset"))
	}
	if upload.With["asset_name"] != AssetName {
		errs = append(errs, fmt.Errorf("asset name must be %q, got %q", AssetName, upload.With["asset_name"]))
	}
	if !strings.Contains(build, upload.With["file"]) || upload.With["file"] == "" {
		errs = append(errs, fmt.Errorf("uploaded file %q is not the build output", upload.With["file"]))
	}
	if !strings.Contains(upload.With["repo_token"], "secrets.") {
		errs = append(errs, errors.New("upload must authenticate with a secret token"))
	}
	return errs
}
