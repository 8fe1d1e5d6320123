// Package anthropicapi implements the remote-API substrate.Substrate
// backend directly against the Anthropic SDK, with optional AWS Bedrock
// credential loading, rate limiting, and retry around each one-shot
// prompt dispatch.
package anthropicapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/sync/errgroup"

	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/internal/substrate/ratelimit"
	"github.com/abathur/swarm/internal/substrate/retry"
	"github.com/abathur/swarm/internal/swarmerr"
)

// Config configures the Anthropic-API substrate.
type Config struct {
	Model           anthropic.Model
	APIKey          string
	UseAWSBedrock   bool
	AWSRegion       string
	AWSProfile      string
	RequestsPerSec  float64
	Retry           retry.Policy
}

// Substrate dispatches prompts directly to the Anthropic Messages API.
type Substrate struct {
	client  anthropic.Client
	model   anthropic.Model
	limiter *ratelimit.Limiter
	retry   retry.Policy
}

// New constructs a Substrate from cfg, choosing Bedrock or the direct
// API by configuration.
func New(cfg Config) (*Substrate, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, swarmerr.Permanent("substrate.anthropicapi.no_api_key", "ANTHROPIC_API_KEY is not set", nil)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	rp := cfg.Retry
	if rp.MaxRetries == 0 {
		rp = retry.Default()
	}

	return &Substrate{
		client:  anthropic.NewClient(opts...),
		model:   model,
		limiter: ratelimit.New(rps),
		retry:   rp,
	}, nil
}

func (s *Substrate) Name() string { return "anthropic_api" }

func (s *Substrate) Run(ctx context.Context, req substrate.Request) ([]substrate.Result, error) {
	n := req.ParallelSamples
	if n < 1 {
		n = 1
	}

	results := make([]substrate.Result, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			res, err := s.runOne(gctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Substrate) runOne(ctx context.Context, req substrate.Request) (substrate.Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	return retry.Execute(ctx, s.retry, func(ctx context.Context) (substrate.Result, error) {
		if err := s.limiter.Acquire(ctx); err != nil {
			return substrate.Result{}, err
		}

		start := time.Now()
		msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     s.model,
			MaxTokens: 8192,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		})
		wallMs := time.Since(start).Milliseconds()
		if err != nil {
			return substrate.Result{}, classify(err)
		}

		var text string
		for _, block := range msg.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}

		return substrate.Result{
			Output:     text,
			TokensUsed: msg.Usage.InputTokens + msg.Usage.OutputTokens,
			WallMs:     wallMs,
		}, nil
	})
}

// classify sorts API failures for the retry policy: rate limit, server
// error (5xx/529), and timeout classes are retried; auth, permission, and
// malformed-request classes are not.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return swarmerr.Transient("substrate.anthropicapi.server_error", fmt.Sprintf("status %d", apiErr.StatusCode), err)
		case 401, 403, 404, 400:
			return swarmerr.Permanent("substrate.anthropicapi.rejected", fmt.Sprintf("status %d", apiErr.StatusCode), err)
		}
	}
	return swarmerr.Transient("substrate.anthropicapi.network_error", "request failed", err)
}
