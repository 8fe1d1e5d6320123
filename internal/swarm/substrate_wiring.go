package swarm

import (
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/abathur/swarm/internal/config"
	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/internal/substrate/anthropicapi"
	"github.com/abathur/swarm/internal/substrate/cli"
	"github.com/abathur/swarm/internal/substrate/mock"
	"github.com/abathur/swarm/internal/substrate/retry"
)

// newSubstrateBackend constructs the concrete substrate.Substrate for
// one entry of cfg.Substrates.Enabled.
func newSubstrateBackend(id string, cfg config.SubstrateConfig) (substrate.Substrate, error) {
	switch id {
	case "mock":
		return mock.New(func(req substrate.Request, attempt int) substrate.Result {
			return substrate.Result{Output: "TESTS: passed=1 failed=0 skipped=0 total=1 regressions=0\nBUILD: success=true errors=0\n"}
		}), nil
	case "cli":
		commandTemplate := cfg.CommandTemplate
		if commandTemplate == "" {
			commandTemplate = "claude --print --output-format stream-json"
		}
		return cli.New(commandTemplate, cfg.Model), nil
	case "anthropic_api":
		return anthropicapi.New(anthropicapi.Config{
			Model:          anthropic.Model(cfg.Model),
			APIKey:         cfg.APIKey,
			RequestsPerSec: cfg.RateLimitRPS,
			Retry: retry.Policy{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
				MaxBackoff:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
			},
		})
	default:
		return nil, fmt.Errorf("unknown substrate id %q", id)
	}
}
