package agentservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

const reviewerSeed = `name: strict-reviewer
description: Reviews merge candidates before Stage 2.
tier: specialist
system_prompt: |
  You review code for correctness and style before integration.
tools:
  - task_get
  - memory_search
constraints:
  - name: no-force-push
    description: Never rewrite published history.
max_turns: 20
capabilities:
  - code-review
`

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSeedDir(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "reviewer.yaml", reviewerSeed)
	writeSeed(t, dir, "unnamed.yml", "system_prompt: Just build.\n")
	writeSeed(t, dir, "ignored.txt", "not yaml")

	defs, err := LoadSeedDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	require.Equal(t, "strict-reviewer", defs[0].Name)
	require.Equal(t, "specialist", defs[0].Tier)
	require.Equal(t, []string{"task_get", "memory_search"}, defs[0].Tools)
	require.Len(t, defs[0].Constraints, 1)
	require.Equal(t, "no-force-push", defs[0].Constraints[0].Name)
	require.Equal(t, 20, defs[0].MaxTurns)

	// A def with no name falls back to its filename.
	require.Equal(t, "unnamed", defs[1].Name)
}

func TestLoadSeedDir_MissingDirIsEmpty(t *testing.T) {
	defs, err := LoadSeedDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, defs)
}

func TestLoadSeedDir_BadYAMLFails(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "broken.yaml", "tier: [unterminated")

	_, err := LoadSeedDir(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.yaml")
}

func TestSeedTemplates_CreatesOnceAndSkipsExisting(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := New(templates, nil, nil, nil)

	dir := t.TempDir()
	writeSeed(t, dir, "reviewer.yaml", reviewerSeed)
	defs, err := LoadSeedDir(dir)
	require.NoError(t, err)

	require.Equal(t, 1, svc.SeedTemplates(ctx, defs))

	tmpl, err := svc.GetTemplate(ctx, "strict-reviewer")
	require.NoError(t, err)
	require.Equal(t, swarmmodel.TierSpecialist, tmpl.Tier)
	require.Equal(t, 1, tmpl.Version)

	// A second seeding pass must not bump the version.
	require.Equal(t, 0, svc.SeedTemplates(ctx, defs))
	tmpl, err = svc.GetTemplate(ctx, "strict-reviewer")
	require.NoError(t, err)
	require.Equal(t, 1, tmpl.Version)
}

func TestSeedTemplates_InvalidDefIsSkipped(t *testing.T) {
	ctx := context.Background()
	svc := New(newMemTemplateRepo(), nil, nil, nil)

	defs := []SeedDef{
		{Name: "good", SystemPrompt: "Build things."},
		{Name: "bad", SystemPrompt: ""}, // fails validation
	}
	require.Equal(t, 1, svc.SeedTemplates(ctx, defs))
}
