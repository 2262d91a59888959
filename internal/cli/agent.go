package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaredwolff/patina/internal/config"
	"github.com/jaredwolff/patina/internal/logger"
	"github.com/jaredwolff/patina/pkg/agent"
	"github.com/jaredwolff/patina/pkg/memory"
	"github.com/jaredwolff/patina/pkg/session"
	"github.com/jaredwolff/patina/pkg/tools"
	"github.com/jaredwolff/patina/pkg/tools/builtin"
	"github.com/jaredwolff/patina/pkg/usage"
)

const cliSessionKey = "cli:default"

var agentSessionFlag string

var agentCmd = &cobra.Command{
	Use:   "agent [message]",
	Short: "Talk to the agent from the terminal",
	Long: `Talk to the agent from the terminal. With a message argument the
agent answers once and exits; without one an interactive session starts.

Exit codes: 0 on success, 2 when the iteration cap was reached without a
final answer, 3 when the run was cancelled.`,
	Args: cobra.ArbitraryArgs,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentSessionFlag, "session", cliSessionKey, "session key to converse under")
	rootCmd.AddCommand(agentCmd)
}

// cliRuntime is the channel-less runtime used by terminal commands.
type cliRuntime struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *session.Store
	builder *agent.ContextBuilder
	tracker *usage.Tracker
	loop    *agent.Loop
}

func newCLIRuntime(cfg *config.Config) (*cliRuntime, error) {
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.WorkspacePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Terminal output belongs to the conversation; keep logs quiet.
	log, err := logger.New(logger.Config{Level: "warn", Console: true, Redaction: cfg.Logging.Redaction})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zl := log.GetZerolog()

	store, err := session.NewStore(cfg.SessionsDir(), zl)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	registry := tools.NewRegistry(cfg.Tools.TimeoutDuration(), zl)
	builtins := []tools.Tool{
		&builtin.ReadFile{Root: cfg.WorkspacePath},
		&builtin.WriteFile{Root: cfg.WorkspacePath},
		&builtin.ListDir{Root: cfg.WorkspacePath},
	}
	if cfg.Tools.ExecEnabled {
		builtins = append(builtins, &builtin.Exec{Root: cfg.WorkspacePath, Denied: cfg.Tools.ExecDenied})
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}

	provider, err := providerFromConfig(cfg)
	if err != nil {
		log.Close()
		return nil, err
	}

	files := memory.NewFiles(cfg.MemoryDir())
	builder, err := agent.NewContextBuilder(cfg.WorkspacePath, files, zl)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create context builder: %w", err)
	}

	tracker, err := usage.NewTracker(cfg.UsageDBPath(), zl)
	if err != nil {
		builder.Close()
		log.Close()
		return nil, fmt.Errorf("failed to create usage tracker: %w", err)
	}

	loop, err := agent.NewLoop(agent.Config{
		Model:          cfg.Agent.Model,
		MaxIterations:  cfg.Agent.MaxIterations,
		MemoryWindow:   cfg.Agent.MemoryWindow,
		Temperature:    cfg.Agent.Temperature,
		MaxTokens:      cfg.Agent.MaxTokens,
		RequestTimeout: cfg.Agent.RequestTimeoutDuration(),
	}, provider, registry, store, builder, tracker, zl)
	if err != nil {
		builder.Close()
		tracker.Close()
		log.Close()
		return nil, fmt.Errorf("failed to create agent loop: %w", err)
	}

	return &cliRuntime{cfg: cfg, log: log, store: store, builder: builder, tracker: tracker, loop: loop}, nil
}

func (r *cliRuntime) Close() {
	r.builder.Close()
	r.tracker.Close()
	r.log.Close()
}

func providerFromConfig(cfg *config.Config) (agent.Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no model providers configured")
	}
	best := cfg.Providers[0]
	for _, p := range cfg.Providers[1:] {
		if p.Priority < best.Priority {
			best = p
		}
	}
	provider, err := agent.NewProvider(best.Provider, best.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", best.Provider, err)
	}
	return provider, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newCLIRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) > 0 {
		return runOnce(ctx, rt, strings.Join(args, " "))
	}
	return runInteractive(ctx, rt)
}

func runOnce(ctx context.Context, rt *cliRuntime, message string) error {
	result, err := processTurn(ctx, rt, message)
	if err != nil {
		return err
	}
	return exitForOutcome(result.Outcome)
}

func runInteractive(ctx context.Context, rt *cliRuntime) error {
	fmt.Println("Patina interactive session. Type 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if _, err := processTurn(ctx, rt, line); err != nil {
			if ctx.Err() != nil {
				return exitForOutcome(agent.OutcomeCancelled)
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// processTurn runs one turn, streaming the reply to stdout.
func processTurn(ctx context.Context, rt *cliRuntime, message string) (*agent.Result, error) {
	streamed := false
	result, err := rt.loop.Process(ctx, agent.Input{
		SessionKey: agentSessionFlag,
		Content:    message,
		Persona:    rt.cfg.Agent.Persona,
		Stream: func(delta string) {
			streamed = true
			fmt.Print(delta)
		},
	})
	if err != nil {
		return nil, err
	}

	if streamed {
		fmt.Println()
	} else if result.Content != "" {
		fmt.Println(result.Content)
	}
	return result, nil
}

func exitForOutcome(outcome agent.Outcome) error {
	switch outcome {
	case agent.OutcomeFinal:
		return nil
	case agent.OutcomeMaxIterations:
		return &ExitError{Code: 2}
	case agent.OutcomeCancelled:
		return &ExitError{Code: 3}
	default:
		return &ExitError{Code: 1}
	}
}
