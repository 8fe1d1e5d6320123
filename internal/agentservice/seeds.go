package agentservice

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// SeedDef is the on-disk YAML shape of one agent template definition,
// read from the user's agents config directory at daemon startup.
type SeedDef struct {
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description"`
	Tier         string           `yaml:"tier"`
	SystemPrompt string           `yaml:"system_prompt"`
	Tools        []string         `yaml:"tools"`
	Constraints  []SeedConstraint `yaml:"constraints"`
	MaxTurns     int              `yaml:"max_turns"`
	Capabilities []string         `yaml:"capabilities"`
}

// SeedConstraint mirrors swarmmodel.AgentConstraint in YAML form.
type SeedConstraint struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoadSeedDir parses every *.yaml/*.yml file under dir into SeedDefs,
// sorted by filename. A missing directory is not an error; it just means
// no seeds.
func LoadSeedDir(dir string) ([]SeedDef, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var defs []SeedDef
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", path, err)
		}
		var def SeedDef
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parse seed %s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SeedTemplates registers each def whose name is not yet present in the
// registry. Existing templates are left untouched so repeated daemon
// startups do not churn versions. Per-def failures are logged and
// skipped; seeding never blocks startup.
func (s *Service) SeedTemplates(ctx context.Context, defs []SeedDef) int {
	created := 0
	for _, def := range defs {
		if _, err := s.GetTemplate(ctx, def.Name); err == nil {
			continue
		}
		if _, err := s.CreateOrUpdate(ctx, def.toSpec()); err != nil {
			log.Printf("agentservice: seed %s: %v", def.Name, err)
			continue
		}
		created++
	}
	return created
}

func (d SeedDef) toSpec() TemplateSpec {
	tier := swarmmodel.Tier(d.Tier)
	if d.Tier == "" {
		tier = swarmmodel.TierWorker
	}
	tools := make([]swarmmodel.ToolCapability, 0, len(d.Tools))
	for _, t := range d.Tools {
		tools = append(tools, swarmmodel.ToolCapability(t))
	}
	constraints := make([]swarmmodel.AgentConstraint, 0, len(d.Constraints))
	for _, c := range d.Constraints {
		constraints = append(constraints, swarmmodel.AgentConstraint{Name: c.Name, Description: c.Description})
	}
	return TemplateSpec{
		Name:         d.Name,
		Description:  d.Description,
		Tier:         tier,
		SystemPrompt: d.SystemPrompt,
		Tools:        tools,
		Constraints:  constraints,
		MaxTurns:     d.MaxTurns,
		Capabilities: d.Capabilities,
	}
}
