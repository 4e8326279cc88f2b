package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/config"
	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/score"
	"github.com/lemon07r/tally/internal/store"
	"github.com/lemon07r/tally/internal/suite"
	"github.com/lemon07r/tally/internal/task"
)

const defaultAgentTimeout = 30 * time.Minute

var (
	suiteTask         string
	suiteTemplate     string
	suiteAgent        string
	suiteModel        string
	suiteRepeats      int
	suiteParallel     int
	suiteRetryVoid    bool
	suiteTimeout      int
	suiteAgentTimeout int
	suiteOutput       string
)

var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Run an agent repeatedly on a task and aggregate the scores",
	Long: `Copies the template workspace once per repeat, runs the agent in each copy
and scores the result. Repeats that hit infrastructure faults (timeouts, rate
limits, missing harness, crashes) are voided instead of scored, and with
--retry-void each voided repeat gets one more attempt.

Aggregates cover scored runs only. The suite directory holds summary.json,
README.md, attestation.json, one workspace per attempt and the scorecards
under runs/.

The exit code is 1 when the scored-run target was not met.

Examples:
  tally suite --task task.yaml --template ./scaffold --agent claude --repeats 5
  tally suite --task task.yaml --template ./scaffold --agent codex --model gpt-5 --parallel 3 --retry-void`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := task.Load(suiteTask)
		if err != nil {
			return err
		}
		agent := cfg.GetAgent(suiteAgent)
		if agent == nil {
			return fmt.Errorf("unknown agent %q (available: %s)", suiteAgent, strings.Join(cfg.ListAgents(), ", "))
		}

		flags := cmd.Flags()
		repeats, parallel, retry := cfg.Suite.Repeats, cfg.Suite.Parallel, cfg.Suite.RetryVoid
		timeout := config.Seconds(cfg.Suite.Timeout)
		if flags.Changed("repeats") {
			repeats = suiteRepeats
		}
		if flags.Changed("parallel") {
			parallel = suiteParallel
		}
		if flags.Changed("retry-void") {
			retry = suiteRetryVoid
		}
		if flags.Changed("timeout") {
			timeout = config.Seconds(suiteTimeout)
		}
		if repeats < 1 {
			return fmt.Errorf("--repeats must be at least 1")
		}

		outputDir := suiteOutput
		if outputDir == "" {
			outputDir = cfg.Suite.OutputDir
		}
		id := result.SuiteID(time.Now(), spec.Name, suiteAgent, suiteModel, repeats)
		suiteDir := filepath.Join(outputDir, id)
		if err := os.MkdirAll(suiteDir, 0755); err != nil {
			return fmt.Errorf("creating suite directory: %w", err)
		}

		sub := &suite.CommandSubstrate{
			Template:     suiteTemplate,
			Root:         suiteDir,
			Name:         spec.Name,
			Task:         spec,
			TaskDir:      filepath.Dir(suiteTask),
			Agent:        *agent,
			Model:        suiteModel,
			AgentTimeout: agentTimeout(agent),
			SourceDirs:   score.FirstNonEmpty(spec.Source.Dirs, cfg.Scoring.SourceDirs),
			SourceExts:   score.FirstNonEmpty(spec.Source.Extensions, cfg.Scoring.SourceExtensions),
			Exec:         runner.NewLocalExecutor(),
			Score:        scoreWorkspace,
			Logger:       logger,
		}

		ctx, cancel := signalContext()
		defer cancel()

		orch := suite.New(sub, suite.Options{
			SuiteID:   id,
			Task:      spec,
			Harness:   suiteAgent,
			Model:     suiteModel,
			Repeats:   repeats,
			Parallel:  parallel,
			RetryVoid: retry,
			Timeout:   timeout,
			OutputDir: suiteDir,
		}, logger)

		rec, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		if err := rec.SaveSuite(suiteDir, Version); err != nil {
			return err
		}
		if cfg.Store.Enabled {
			if err := recordSuite(rec, suiteDir); err != nil {
				logger.Warn("failed to record suite history", "error", err)
			}
		}

		fmt.Print(rec.RenderTerminal())
		fmt.Printf(" Suite saved to: %s\n\n", suiteDir)

		if !rec.Retry.TargetMet {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	suiteCmd.Flags().StringVarP(&suiteTask, "task", "t", "", "task specification file")
	suiteCmd.Flags().StringVar(&suiteTemplate, "template", "", "template workspace copied for every attempt")
	suiteCmd.Flags().StringVarP(&suiteAgent, "agent", "a", "", "agent to run (see 'tally agents')")
	suiteCmd.Flags().StringVarP(&suiteModel, "model", "m", "", "model passed to the agent")
	suiteCmd.Flags().IntVarP(&suiteRepeats, "repeats", "n", 1, "number of scored runs wanted")
	suiteCmd.Flags().IntVarP(&suiteParallel, "parallel", "p", 1, "repeats run at the same time")
	suiteCmd.Flags().BoolVar(&suiteRetryVoid, "retry-void", true, "retry voided repeats once")
	suiteCmd.Flags().IntVar(&suiteTimeout, "timeout", 0, "suite-wide timeout in seconds (0 = none)")
	suiteCmd.Flags().IntVar(&suiteAgentTimeout, "agent-timeout", 0, "per-attempt agent timeout in seconds (default from agent config, else 30m)")
	suiteCmd.Flags().StringVarP(&suiteOutput, "output", "o", "", "parent directory for suites (default from config)")
	_ = suiteCmd.MarkFlagRequired("task")
	_ = suiteCmd.MarkFlagRequired("template")
	_ = suiteCmd.MarkFlagRequired("agent")
}

func agentTimeout(agent *config.AgentConfig) time.Duration {
	switch {
	case suiteAgentTimeout > 0:
		return config.Seconds(suiteAgentTimeout)
	case agent.Timeout > 0:
		return config.Seconds(agent.Timeout)
	default:
		return defaultAgentTimeout
	}
}

func recordSuite(rec *result.SuiteRecord, dir string) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return st.RecordSuite(context.Background(), rec, abs)
}
