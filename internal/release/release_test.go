package release

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workflowPath = filepath.Join("..", "..", ".github", "workflows", "release.yml")

func TestReleaseWorkflowKeepsContract(t *testing.T) {
	w, err := Load(workflowPath)
	require.NoError(t, err)
	assert.NoError(t, w.Validate())

	require.Len(t, w.Jobs, 1)
	for _, job := range w.Jobs {
		require.Len(t, job.Steps, 4)
		assert.Equal(t, AssetName, job.Steps[3].With["asset_name"])
	}
}

func writeWorkflow(t *testing.T, body string) *Workflow {
	t.Helper()
	p := filepath.Join(t.TempDir(), "wf.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	w, err := Load(p)
	require.NoError(t, err)
	return w
}

func TestValidateRejectsBranchTriggerAndDebugBuild(t *testing.T) {
	w := writeWorkflow(t, `
on:
  push:
    branches: [main]
permissions:
  contents: read
jobs:
  release:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-go@v5
      - run: go build -gcflags=all=-N -o dist/rarscan .
      - uses: svenstaro/upload-release-action@v2
        with:
          file: dist/rarscan
          asset_name: rarscan-${{ github.ref_name }}
          repo_token: ${{ secrets.GITHUB_TOKEN }}
`)
	err := w.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "trigger must be push of tags")
	assert.Contains(t, msg, "permissions.contents")
	assert.Contains(t, msg, "release mode")
	assert.Contains(t, msg, "debug flags")
	assert.Contains(t, msg, "asset name")
}

func TestValidateRejectsWrongStepCount(t *testing.T) {
	w := writeWorkflow(t, `
on:
  push:
    tags: ['*']
permissions:
  contents: write
jobs:
  release:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - run: go build -trimpath -ldflags "-s -w" -o dist/rarscan .
`)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4 steps")
}

func TestValidateRejectsMissingToken(t *testing.T) {
	w := writeWorkflow(t, `
on:
  push:
    tags: ['*']
permissions:
  contents: write
jobs:
  release:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-go@v5
      - run: go build -trimpath -ldflags "-s -w" -o dist/rarscan .
      - uses: svenstaro/upload-release-action@v2
        with:
          file: dist/rarscan
          asset_name: rarscan
`)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret token")
}

func TestLoadMissingWorkflow(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yml"))
	assert.Error(t, err)
}
