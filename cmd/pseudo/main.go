// Pseudo is a multi-modal generation gateway.
//
// It accepts natural-language requests over an HTTP API and a built-in
// web UI, classifies each request into a modality (text, image, or
// audio), and dispatches it through an ordered queue of provider/model
// candidates until one succeeds. Results are stored as conversation
// threads on disk. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]); provider
// API keys live in a separate credentials file.
//
// Usage:
//
//	pseudo serve             Start the server
//	pseudo init [dir]        Write default config and credentials files
//	pseudo ask <request>     Run a single request through the pipeline
//	pseudo version           Print version and build information
//	pseudo -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pseudoapp/pseudo/internal/api"
	"github.com/pseudoapp/pseudo/internal/buildinfo"
	"github.com/pseudoapp/pseudo/internal/chats"
	"github.com/pseudoapp/pseudo/internal/classify"
	"github.com/pseudoapp/pseudo/internal/config"
	"github.com/pseudoapp/pseudo/internal/credentials"
	"github.com/pseudoapp/pseudo/internal/dispatch"
	"github.com/pseudoapp/pseudo/internal/llm"
	"github.com/pseudoapp/pseudo/internal/media"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the pseudo command. OS-level
// dependencies are injected as parameters so tests can drive the full
// lifecycle. Arguments are parsed by hand: the flag package relies on
// package-level globals, which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var credsPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-credentials" && i+1 < len(args):
			credsPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-credentials="):
			credsPath = strings.TrimPrefix(args[i], "-credentials=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath, credsPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: pseudo ask <request>")
		}
		return runAsk(ctx, stdout, configPath, credsPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Pseudo - Multi-Modal Generation Gateway")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: pseudo [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the server")
	fmt.Fprintln(w, "  init [dir]   Write default config and credentials files (default: .)")
	fmt.Fprintln(w, "  ask          Run a single request through the pipeline (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>       Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -credentials <path>  Path to credentials file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt     Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./pseudo.yaml, ~/.config/pseudo/pseudo.yaml, /etc/pseudo/pseudo.yaml")
	return nil
}

// runInit writes a starter config file and credentials skeleton into
// dir so a new installation has something concrete to edit.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, "pseudo.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	starter := `# Pseudo configuration
listen:
  address: ""
  port: 8080

data_dir: data

# Provider API keys live in credentials.json, not here.
providers:
  ollama_url: http://localhost:11434
  openai_url: https://api.openai.com
  anthropic_url: https://api.anthropic.com

log_level: info
log_format: text
`
	if err := os.WriteFile(cfgPath, []byte(starter), 0644); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}
	fmt.Fprintf(stdout, "Wrote %s\n", cfgPath)

	logger := newLogger(io.Discard, slog.LevelInfo, "text")
	creds, err := credentials.Open(filepath.Join(dir, "credentials.json"), logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s\n", creds.Path())
	fmt.Fprintln(stdout, "Edit the credentials file to add providers, then run: pseudo serve")
	return nil
}

// runAsk handles the "pseudo ask <request>" subcommand. It runs one
// request through the same classify/dispatch/persist pipeline the
// server uses and prints the result. Useful for smoke-testing a
// credentials file without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath, credsPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	request := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if credsPath == "" {
		credsPath = cfg.CredentialsFile
	}
	creds, err := credentials.Open(credsPath, logger)
	if err != nil {
		return err
	}

	store, err := chats.New(cfg.ChatsDir(), logger)
	if err != nil {
		return fmt.Errorf("open chat store: %w", err)
	}

	registry := llm.NewRegistry(
		llm.NewOllamaClient(cfg.Providers.OllamaURL, logger),
		llm.NewOpenAIClient(cfg.Providers.OpenAIURL, logger),
		llm.NewAnthropicClient(cfg.Providers.AnthropicURL, logger),
	)

	cat := creds.Catalog()
	cls := classify.New(registry, logger).Classify(ctx, cat, request)

	result, err := dispatch.New(registry, logger).Dispatch(ctx, cat, cls.Mode, cls.Content)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if !cls.Mode.Media() {
		fmt.Fprintln(stdout, result.Content.String())
		return nil
	}

	// Media lands in a fresh thread so the artifact has a stable home.
	chatID, err := store.Create(false)
	if err != nil {
		return err
	}
	path, err := media.New(logger).Persist(ctx, result.Content, cls.Mode, store.MediaDir(chatID))
	if err != nil {
		return fmt.Errorf("save %s: %w", cls.Mode, err)
	}
	fmt.Fprintf(stdout, "Saved %s to %s\n", cls.Mode, path)
	return nil
}

// runServe is the primary operating mode: load config and credentials,
// build the provider clients and pipeline, start the HTTP server, and
// block until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath, credsPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Pseudo", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and config discovery.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"data_dir", cfg.DataDir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// Credentials: the -credentials flag wins, then the config file,
	// then the default search paths.
	if credsPath == "" {
		credsPath = cfg.CredentialsFile
	}
	creds, err := credentials.Open(credsPath, logger)
	if err != nil {
		return err
	}
	logger.Info("credentials loaded", "path", creds.Path())

	store, err := chats.New(cfg.ChatsDir(), logger)
	if err != nil {
		return fmt.Errorf("open chat store: %w", err)
	}

	// Provider clients. All three are registered regardless of what the
	// credentials file contains; the dispatcher only calls the ones the
	// catalog names.
	registry := llm.NewRegistry(
		llm.NewOllamaClient(cfg.Providers.OllamaURL, logger),
		llm.NewOpenAIClient(cfg.Providers.OpenAIURL, logger),
		llm.NewAnthropicClient(cfg.Providers.AnthropicURL, logger),
	)

	server := api.NewServer(
		cfg.Listen.Address,
		cfg.Listen.Port,
		store,
		creds,
		classify.New(registry, logger),
		dispatch.New(registry, logger),
		media.New(logger),
		logger,
	)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Pseudo stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. When no
// file exists anywhere, built-in defaults apply: unlike the credentials
// file, the config has nothing that must be filled in before first use.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
