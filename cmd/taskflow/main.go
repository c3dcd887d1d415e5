package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/pipeline"
)

const version = "0.3.0"

// Exit codes.
const (
	exitOK         = 0
	exitStepFailed = 1
	exitUsage      = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		// A second signal kills the process while a watch run drains.
		<-ctx.Done()
		stop()
	}()
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

type globalFlags struct {
	config    string
	logLevel  string
	logJSON   bool
	overrides []string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "taskflow [task|alias|task:target ...]",
		Short: "Run build pipelines declared in taskflow.yaml",
		Long: "taskflow resolves the given names (\"default\" when none are given) into an\n" +
			"ordered list of steps and runs them one after another, stopping at the\n" +
			"first failure.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), flags, args, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "project file (default: nearest "+model.ProjectFileName+")")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&flags.logJSON, "log-json", false, "write logs as JSON")
	pf.StringArrayVar(&flags.overrides, "set", nil, "override a config value (path=yaml), repeatable")

	root.AddCommand(
		newListCommand(flags, stdout, stderr),
		newWatchCtlCommand(flags, stdout),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(stdout, "taskflow %s\n", version)
			},
		},
	)
	return root
}

// loadProject locates and decodes the project file and applies defaults.
// It returns the project root directory alongside the project.
func loadProject(flags *globalFlags) (*model.Project, string, error) {
	path := flags.config
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		if path, err = model.FindProjectFile(wd); err != nil {
			return nil, "", err
		}
	}
	p, err := model.LoadProject(path)
	if err != nil {
		return nil, "", err
	}
	user, err := model.LoadUserDefaults()
	if err != nil {
		return nil, "", err
	}
	p.ApplyDefaults(user)
	if flags.logLevel != "" {
		p.Logging.Level = flags.logLevel
	}
	if flags.logJSON {
		p.Logging.JSON = true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	return p, filepath.Dir(abs), nil
}

func newLogger(p *model.Project, stderr io.Writer) zerolog.Logger {
	return logging.New(stderr, logging.Options{Level: p.Logging.Level, JSON: p.Logging.JSON})
}

// openPipeline loads the project and builds its pipeline. Every failure
// here happens before any step runs.
func openPipeline(flags *globalFlags, stdout, stderr io.Writer) (*pipeline.Pipeline, error) {
	proj, dir, err := loadProject(flags)
	if err != nil {
		return nil, err
	}
	return pipeline.New(proj, pipeline.Options{
		Dir:       dir,
		Logger:    newLogger(proj, stderr),
		Stdout:    stdout,
		Stderr:    stderr,
		Overrides: flags.overrides,
	})
}

func runPipeline(ctx context.Context, flags *globalFlags, names []string, stdout, stderr io.Writer) error {
	p, err := openPipeline(flags, stdout, stderr)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer func() { _ = p.Close() }()

	res, err := p.Run(ctx, names...)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	if !res.OK() {
		return &exitError{code: exitStepFailed, err: res.Err}
	}
	return nil
}
