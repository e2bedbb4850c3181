package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/trialscribe/internal/config"
	"github.com/dshills/trialscribe/internal/draftdiff"
	"github.com/dshills/trialscribe/internal/events"
	"github.com/dshills/trialscribe/internal/graph"
	"github.com/dshills/trialscribe/internal/ingest"
	"github.com/dshills/trialscribe/internal/llm"
	"github.com/dshills/trialscribe/internal/logging"
	"github.com/dshills/trialscribe/internal/retrieval"
	"github.com/dshills/trialscribe/internal/scribe"
	"github.com/dshills/trialscribe/internal/store"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// defaultTask is the demo drafting task used when --task is not given.
const defaultTask = "Write a \"Protocol Synopsis\" paragraph for an interventional Phase II oncology trial. " +
	"Mention design, key eligibility, primary endpoint, AE reporting basics, data protection, and informed consent."

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// runFlags holds the parsed flags for the run command.
type runFlags struct {
	task        string
	storePath   string
	configFile  string
	model       string
	maxIters    int
	temperature float64
	maxTokens   int
	stream      bool
	eventsPath  string
	diff        bool
	out         string
}

func main() {
	root := &cobra.Command{
		Use:     "trialscribe",
		Short:   "Draft clinical-trial document sections with grounded, checked revisions",
		Long:    "TrialScribe drafts a clinical-trial document section with an LLM, grounds it in ingested guidance text, and revises it until compliance checks pass or the revision budget runs out.",
		Version: version,
	}

	root.AddCommand(newIngestCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newRunsCmd())

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(1)
	}
}

func newIngestCmd() *cobra.Command {
	var storePath, configFile string
	cmd := &cobra.Command{
		Use:   "ingest <guidance-dir>",
		Short: "Index a directory of guidance documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(args[0], storePath, configFile)
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite store path (default from config)")
	cmd.Flags().StringVar(&configFile, "config", "", "Config file path")
	return cmd
}

func runIngest(dir, storePath, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return codeError(3, "loading config: %s", err)
	}
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	initLogging(cfg)

	st, err := store.Open(storePath)
	if err != nil {
		return codeError(3, "opening store: %s", err)
	}
	defer st.Close()

	summary, err := ingest.Ingest(context.Background(), dir, store.NewChunkRepository(st))
	if err != nil {
		return codeError(3, "ingest: %s", err)
	}
	fmt.Fprintf(os.Stdout, "Ingested %d file(s), %d chunk(s) into %s\n", summary.Files, summary.Chunks, storePath)
	return nil
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Draft a section and revise it until checks pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraft(flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.task, "task", "", "Drafting task (default: the Protocol Synopsis demo task)")
	f.StringVar(&flags.storePath, "store", "", "SQLite store path (default from config)")
	f.StringVar(&flags.configFile, "config", "", "Config file path")
	f.StringVar(&flags.model, "model", "", "Generation backend as provider:model (default from config)")
	f.IntVar(&flags.maxIters, "max-iters", -1, "Revision budget; 0 disables revisions (default from config)")
	f.Float64Var(&flags.temperature, "temperature", -1, "LLM temperature (default from config)")
	f.IntVar(&flags.maxTokens, "max-tokens", -1, "Maximum response tokens (default from config)")
	f.BoolVar(&flags.stream, "stream", false, "Print each state transition to the console")
	f.StringVar(&flags.eventsPath, "events", "", "Append state transitions as JSONL to this file")
	f.BoolVar(&flags.diff, "diff", false, "Print a diff per revision to stderr")
	f.StringVar(&flags.out, "out", "", "Write the final draft to this file instead of stdout")
	return cmd
}

func runDraft(flags runFlags) error {
	if strings.TrimSpace(flags.task) == "" {
		flags.task = defaultTask
	}
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return codeError(3, "loading config: %s", err)
	}
	applyRunFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return codeError(3, "invalid flags: %s", err)
	}
	initLogging(cfg)
	log := logging.Component("cli")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return codeError(3, "opening store: %s", err)
	}
	defer st.Close()

	chunks := store.NewChunkRepository(st)
	runs := store.NewRunRepository(st)
	retriever := retrieval.NewStoreRetriever(chunks)

	provider, err := llm.NewProvider(cfg.Model)
	if err != nil {
		return codeError(4, "creating LLM provider: %s", err)
	}

	sinks := events.Multi{events.NewStoreSink(runs)}
	if flags.stream {
		sinks = append(sinks, events.NewConsoleSink(os.Stderr))
	}
	if flags.eventsPath != "" {
		jsonl, err := events.NewJSONLSink(flags.eventsPath)
		if err != nil {
			return codeError(3, "opening events file: %s", err)
		}
		defer jsonl.Close()
		sinks = append(sinks, jsonl)
	}

	runID := uuid.New().String()
	ctx := context.Background()
	if err := runs.Create(ctx, &store.Run{ID: runID, Task: flags.task, Model: cfg.Model}); err != nil {
		// Run history is advisory; drafting proceeds without it.
		log.Warn().Err(err).Msg("run record not persisted")
	}

	runner, err := scribe.NewRunner(retriever, provider, scribe.Options{
		MaxIterations: cfg.Loop.MaxIterations,
		TopK:          cfg.Retrieval.TopK,
		PreviewLen:    cfg.Retrieval.PreviewLen,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Sink:          sinks,
		RunID:         runID,
	})
	if err != nil {
		return codeError(3, "configuring runner: %s", err)
	}

	result, err := runner.Run(ctx, flags.task)
	if err != nil {
		return codeError(5, "%s", err)
	}

	if err := runs.Finish(ctx, runID, result.Draft, result.Iterations, len(result.Issues)); err != nil {
		log.Warn().Err(err).Msg("run record not finalized")
	}

	if flags.diff {
		if d := draftdiff.History(result.DraftHistory); d != "" {
			fmt.Fprint(os.Stderr, d)
		}
	}

	if len(result.Issues) > 0 {
		fmt.Fprintf(os.Stderr, "WARN: %d compliance issue(s) remain after %d revision(s):\n", len(result.Issues), result.Iterations)
		for _, issue := range result.Issues {
			fmt.Fprintf(os.Stderr, "  - %s: %s\n", issue.Rule, issue.Message)
		}
	}

	if flags.out != "" {
		if err := os.WriteFile(flags.out, []byte(result.Draft), 0o644); err != nil {
			return codeError(3, "writing output file: %s", err)
		}
		return nil
	}
	fmt.Fprintln(os.Stdout, result.Draft)
	return nil
}

func newGraphCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the pipeline state diagram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := graph.NewRenderer(format)
			if err != nil {
				return codeError(3, "invalid format: %s", err)
			}
			diagram, err := renderer.Render()
			if err != nil {
				return codeError(3, "rendering diagram: %s", err)
			}
			if out != "" {
				if err := os.WriteFile(out, diagram, 0o644); err != nil {
					return codeError(3, "writing output file: %s", err)
				}
				return nil
			}
			_, err = os.Stdout.Write(diagram)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "Diagram format: mermaid or dot")
	cmd.Flags().StringVar(&out, "out", "", "Write diagram to file instead of stdout")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var storePath, configFile string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent drafting runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(storePath, configFile, limit, os.Stdout)
		},
	}
	cmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite store path (default from config)")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Replay one run's state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRun(storePath, configFile, args[0], os.Stdout)
		},
	}
	cmd.AddCommand(showCmd)
	return cmd
}

func showRun(storePath, configFile, runID string, w io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return codeError(3, "loading config: %s", err)
	}
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	initLogging(cfg)

	st, err := store.Open(storePath)
	if err != nil {
		return codeError(3, "opening store: %s", err)
	}
	defer st.Close()

	repo := store.NewRunRepository(st)
	ctx := context.Background()

	run, err := repo.Get(ctx, runID)
	if err != nil {
		return codeError(3, "%s", err)
	}
	fmt.Fprintf(w, "Run %s\nTask: %s\nModel: %s\nIterations: %d  Open issues: %d\n\n",
		run.ID, run.Task, run.Model, run.Iterations, run.IssueCount)

	evs, err := repo.Events(ctx, runID)
	if err != nil {
		return codeError(3, "reading run events: %s", err)
	}
	for _, ev := range evs {
		fmt.Fprintf(w, "%s  %s\n", ev.Timestamp.Format("15:04:05.000"), ev.State)
		keys := make([]string, 0, len(ev.Changed))
		for k := range ev.Changed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s: %s\n", k, ev.Changed[k])
		}
	}
	return nil
}

func listRuns(storePath, configFile string, limit int, w io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return codeError(3, "loading config: %s", err)
	}
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	initLogging(cfg)

	st, err := store.Open(storePath)
	if err != nil {
		return codeError(3, "opening store: %s", err)
	}
	defer st.Close()

	list, err := store.NewRunRepository(st).List(context.Background(), limit)
	if err != nil {
		return codeError(3, "listing runs: %s", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, run := range list {
		status := "clean"
		if run.IssueCount > 0 {
			status = fmt.Sprintf("%d issue(s)", run.IssueCount)
		}
		if run.FinishedAt.IsZero() {
			status = "unfinished"
		}
		fmt.Fprintf(w, "%s  %s  iters=%d  %s  %s\n",
			run.StartedAt.Format("2006-01-02 15:04"), run.ID[:8], run.Iterations, status, truncateTask(run.Task))
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	return loader.Load()
}

// applyRunFlags overlays explicitly-set flags on the loaded config.
// Sentinel values mark unset numeric flags.
func applyRunFlags(cfg *config.Config, flags runFlags) {
	if flags.storePath != "" {
		cfg.Store.Path = flags.storePath
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.maxIters >= 0 {
		cfg.Loop.MaxIterations = flags.maxIters
	}
	if flags.temperature >= 0 {
		cfg.LLM.Temperature = flags.temperature
	}
	if flags.maxTokens >= 0 {
		cfg.LLM.MaxTokens = flags.maxTokens
	}
}

func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

func truncateTask(task string) string {
	task = strings.Join(strings.Fields(task), " ")
	runes := []rune(task)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return task
}
