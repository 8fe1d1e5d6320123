// Package cli implements the local-CLI substrate.Substrate backend: a
// configurable subprocess runner that feeds the prompt over stdin and
// reads stream-json output from stdout.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"golang.org/x/sync/errgroup"

	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/internal/swarmerr"
)

// Substrate dispatches prompts to a local command-line agent binary,
// passing the prompt on stdin and reading its stdout as the raw artifact.
type Substrate struct {
	// CommandTemplate is a shell-quoted command line; "{{model}}" and
	// "{{max_turns}}" are substituted if present.
	CommandTemplate string
	Model           string
}

// New creates a CLI substrate invoking commandTemplate (e.g. "claude
// --print --output-format stream-json").
func New(commandTemplate, model string) *Substrate {
	return &Substrate{CommandTemplate: commandTemplate, Model: model}
}

func (s *Substrate) Name() string { return "cli" }

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

	args, err := shellquote.Split(s.CommandTemplate)
	if err != nil || len(args) == 0 {
		return substrate.Result{}, swarmerr.ValidationWrap("substrate.cli.bad_command", "invalid command template", err)
	}
	for i, arg := range args {
		arg = strings.ReplaceAll(arg, "{{model}}", s.Model)
		args[i] = strings.ReplaceAll(arg, "{{max_turns}}", strconv.Itoa(req.MaxTurns))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = bytes.NewBufferString(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	wallMs := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			return substrate.Result{}, swarmerr.Transient("substrate.cli.timeout", "cli substrate timed out", ctx.Err())
		}
		return substrate.Result{}, swarmerr.Permanent("substrate.cli.exit_error", fmt.Sprintf("cli substrate exited: %s", scanLast(stderr.String())), err)
	}

	return substrate.Result{Output: stdout.String(), WallMs: wallMs}, nil
}

// scanLast returns the final non-empty line of s, for compact error context.
func scanLast(s string) string {
	sc := bufio.NewScanner(bytes.NewBufferString(s))
	last := ""
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			last = line
		}
	}
	return last
}
