package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openwrt/ghmerge/internal/cfg"
	"github.com/openwrt/ghmerge/internal/gate"
	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/git"
	"github.com/openwrt/ghmerge/internal/githubclt"
	"github.com/openwrt/ghmerge/internal/logfields"
	"github.com/openwrt/ghmerge/internal/mergepr"
	"github.com/openwrt/ghmerge/internal/metrics"
	"github.com/openwrt/ghmerge/internal/prompt"
	"github.com/openwrt/ghmerge/internal/retryer"
	"github.com/openwrt/ghmerge/internal/ui"
)

const appName = "ghmerge"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(int(ghmergeerr.ExitInvalidInput))
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	DryRun      *bool
	AssumeYes   *bool
	Comment     *string
	Repository  *string
	PrintConfig *bool

	PullRequestID string
	Branch        string
}

var args arguments

func defConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, appName, "config.toml")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]... <PR-ID> [BRANCH] [DRY-RUN]\n", appName)
	fmt.Fprintf(os.Stderr, "Rebase a GitHub pull request onto BRANCH and merge it via fast-forward.\n")
	fmt.Fprintf(os.Stderr, "Any non-empty DRY-RUN argument enables the dry-run mode.\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	pflag.PrintDefaults()
}

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile(),
			"path to the ghmerge configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		DryRun: pflag.BoolP(
			"dry-run",
			"n",
			false,
			"print git commands that modify a repository instead of running them,\nsimulate github api write operations",
		),
		AssumeYes: pflag.BoolP(
			"yes",
			"y",
			false,
			"push the merged branch without asking for confirmation",
		),
		Comment: pflag.StringP(
			"comment",
			"m",
			"",
			"comment that is posted when closing the pull request,\nthe comment is not prompted for when set",
		),
		Repository: pflag.String(
			"repository",
			"",
			"github repository (<owner>/<name>), overrides the configured one",
		),
		PrintConfig: pflag.Bool(
			"print-config",
			false,
			"print the effective configuration and exit",
		),
	}

	pflag.Usage = usage
	pflag.Parse()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0)
	}
}

// parsePositional parses the positional arguments <PR-ID> [BRANCH] [DRY-RUN].
// An empty or missing BRANCH is defaultBranch, any non-empty DRY-RUN value
// enables the dry-run mode.
func parsePositional(positional []string, defaultBranch string) (prID, branch string, dryRun bool, err error) {
	if len(positional) < 1 || len(positional) > 3 {
		return "", "", false, fmt.Errorf("expected 1 to 3 arguments, got %d", len(positional))
	}

	prID = positional[0]
	branch = defaultBranch

	if len(positional) > 1 && positional[1] != "" {
		branch = positional[1]
	}

	if len(positional) > 2 && positional[2] != "" {
		dryRun = true
	}

	return prID, branch, dryRun, nil
}

func mustParsePositional(defaultBranch string) {
	prID, branch, dryRun, err := parsePositional(pflag.Args(), defaultBranch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err.Error())
		usage()
		os.Exit(int(ghmergeerr.ExitInvalidInput))
	}

	args.PullRequestID = prID
	args.Branch = branch

	if dryRun {
		*args.DryRun = true
	}
}

func printConfig(w io.Writer, config *cfg.Config) error {
	printed := *config
	printed.GithubAPIToken = hide(printed.GithubAPIToken)

	return printed.Marshal(w)
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	var config *cfg.Config

	if *args.ConfigFile == "" {
		config = cfg.Default()
	} else {
		var err error

		config, err = cfg.LoadFile(*args.ConfigFile, pflag.CommandLine.Changed("cfg-file"))
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	config.ApplyEnv(os.Getenv)

	if *args.Repository != "" {
		config.Repository = *args.Repository
	}

	exitOnErr("configuration is invalid", config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stderr,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stderr"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	if config.LogFormat == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableCaller = true
		cfg.DisableStacktrace = true
	}

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(int(ghmergeerr.ExitInvalidInput))
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(int(ghmergeerr.ExitInvalidInput))
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		// syncing stderr fails with EINVAL on some platforms
		if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// graphQLURL returns the GraphQL endpoint of the GitHub Enterprise server
// with the REST API URL restURL.
func graphQLURL(restURL string) string {
	u := strings.TrimSuffix(restURL, "/")
	u = strings.TrimSuffix(u, "/v3")

	return u + "/graphql"
}

func mustNewGithubClient(config *cfg.Config) mergepr.GithubClient {
	var opts []githubclt.Option
	if config.GithubAPIURL != "" {
		opts = append(opts, githubclt.WithEnterpriseURLs(config.GithubAPIURL, graphQLURL(config.GithubAPIURL)))
	}

	clt, err := githubclt.New(config.GithubAPIToken, opts...)
	exitOnErr("could not create github api client", err)

	if *args.DryRun {
		return githubclt.NewDryClient(clt)
	}

	return clt
}

func pushMetrics(ctx context.Context, config *cfg.Config, res *mergepr.Result, exitCode ghmergeerr.ExitCode, duration time.Duration) {
	if config.Metrics.PushgatewayURL == "" {
		return
	}

	if *args.DryRun {
		logger.Debug("not pushing metrics in dry-run mode", logfields.Event("metrics_push_skipped"))
		return
	}

	run := metrics.Run{
		Repository: config.Repository,
		BaseBranch: res.Branch,
		Step:       string(res.Step),
		ExitCode:   int(exitCode),
		Duration:   duration,
		Finished:   time.Now(),
	}
	run.MergedCommits = len(res.Commits)

	err := metrics.NewPusher(config.Metrics.PushgatewayURL, config.Metrics.Job).Push(ctx, &run)
	if err != nil {
		logger.Warn("pushing metrics failed",
			logfields.Event("metrics_push_failed"),
			zap.Error(err),
		)

		return
	}

	logger.Debug("metrics pushed", logfields.Event("metrics_pushed"))
}

func main() {
	defer panicHandler()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	config := mustParseCfg()

	if *args.PrintConfig {
		exitOnErr("could not print configuration", printConfig(os.Stdout, config))
		os.Exit(0)
	}

	mustParsePositional(config.DefaultBranch)

	mustInitLogger(config)

	exitOnErr("git is required", git.CheckInstalled())

	owner, repo, err := config.OwnerAndRepository()
	exitOnErr("configuration is invalid", err)

	retryTimeout, err := config.Notify.RetryTimeoutDuration()
	exitOnErr("configuration is invalid", err)

	var filter *gate.Gate
	if config.Merge.FilterQuery != "" {
		filter, err = gate.New(config.Merge.FilterQuery)
		exitOnErr("could not parse merge.filter_query", err)
	}

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("repository", config.Repository),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("github_api_url", config.GithubAPIURL),
		zap.String("upstream_remote", config.UpstreamRemote),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Bool("require_ci_success", config.Merge.RequireCISuccess),
		zap.Bool("require_approval", config.Merge.RequireApproval),
		zap.String("filter_query", config.Merge.FilterQuery),
		zap.Duration("notify_retry_timeout", retryTimeout),
		zap.String("pushgateway_url", config.Metrics.PushgatewayURL),
		zap.Bool("dry_run", *args.DryRun),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		if sig == nil {
			return
		}

		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		cancelFn()
	})

	if config.GithubAPIToken == "" {
		logger.Info(
			fmt.Sprintf("%s is not set, the pull request will not be closed on github", cfg.TokenEnvVar),
			logfields.Event("github_api_token_missing"),
		)
	}

	var gitOpts []git.Option
	if *args.DryRun {
		gitOpts = append(gitOpts, git.WithDryRun(os.Stdout))
	}

	merger := mergepr.New(
		mergepr.Config{
			RepositoryOwner:  owner,
			Repository:       repo,
			UpstreamRemote:   config.UpstreamRemote,
			DryRun:           *args.DryRun,
			Notify:           config.GithubAPIToken != "",
			ClosingComment:   config.ClosingComment,
			RequireCISuccess: config.Merge.RequireCISuccess,
			RequireApproval:  config.Merge.RequireApproval,
			Gate:             filter,
		},
		git.New("", gitOpts...),
		mustNewGithubClient(config),
		&prompt.Preset{
			Prompter:    prompt.NewTerminal(),
			AssumeYes:   *args.AssumeYes,
			InputAnswer: *args.Comment,
		},
		retryer.New(retryTimeout),
	)

	start := time.Now()
	res, err := merger.Run(ctx, args.PullRequestID, args.Branch)
	duration := time.Since(start)

	ui.NewPrinter(os.Stdout).Print(res, err)

	exitCode := ghmergeerr.ExitCodeOf(err)
	if err != nil {
		logger.Error(
			"merging pull request failed",
			logfields.Event("merge_failed"),
			logfields.Step(string(res.Step)),
			zap.Int("exit_code", int(exitCode)),
			zap.Error(err),
		)
	}

	pushMetrics(ctx, config, res, exitCode, duration)

	goodbye.Exit(context.Background(), int(exitCode))
}
