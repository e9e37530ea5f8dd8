// Package cmdutil holds the plumbing every dappctl command shares.
package cmdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/config"
	platformlogging "github.com/zenGate-Global/dappbot-ops/platform/go/logging"
	"github.com/zenGate-Global/dappbot-ops/platform/go/requesttrace"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
	"github.com/zenGate-Global/dappbot-ops/platform/go/setups"
)

const (
	FlagEnvFile  = "env-file"
	FlagLogLevel = "log-level"
)

// Runtime is what a command needs before touching any backend.
type Runtime struct {
	Config config.Config
	Logger *zap.Logger
}

// Load reads configuration and builds a console logger on stderr.
func Load(cmd *cobra.Command) (Runtime, error) {
	envFile, _ := cmd.Flags().GetString(FlagEnvFile)
	cfg, err := config.LoadWithEnvFile(envFile)
	if err != nil {
		return Runtime{}, err
	}
	if level, _ := cmd.Flags().GetString(FlagLogLevel); level != "" {
		cfg.LogLevel = level
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "dappctl",
		Level:     cfg.LogLevel,
		Output:    cmd.ErrOrStderr(),
		Console:   true,
	})
	if err != nil {
		return Runtime{}, fmt.Errorf("init logger: %w", err)
	}
	return Runtime{Config: cfg, Logger: logger}, nil
}

// Context tags ctx as a CLI-triggered invocation and scopes the logger with it.
func (rt Runtime) Context(ctx context.Context) context.Context {
	trigger := requesttrace.New(requesttrace.SourceCLI, "")
	return platformlogging.WithLogger(requesttrace.IntoContext(ctx, trigger), rt.Logger.With(trigger.Fields()...))
}

// Executor builds a retry executor for commands that skip the full stack.
func (rt Runtime) Executor() *retry.Executor {
	return retry.New(rt.Config.RetryPolicy(), retry.WithLogger(rt.Logger))
}

// WithStack builds the full stack for the duration of fn.
func WithStack(cmd *cobra.Command, fn func(ctx context.Context, s *setups.Stack) error) error {
	rt, err := Load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	ctx := rt.Context(cmd.Context())
	stack, err := setups.Build(ctx, rt.Config, rt.Logger)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(ctx, stack)
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReadInput reads a file, or stdin when path is "-".
func ReadInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
