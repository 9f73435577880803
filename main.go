// gateline gates requests and responses around a reasoning backend:
// structural validation, content checking, penalty-scored safety decisions,
// and output sanitization.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateline/gateline/internal/api"
	"github.com/gateline/gateline/internal/completion"
	"github.com/gateline/gateline/internal/config"
	"github.com/gateline/gateline/internal/fileutil"
	"github.com/gateline/gateline/internal/logger"
	"github.com/gateline/gateline/internal/pipeline"
	"github.com/gateline/gateline/internal/rules"
	"github.com/gateline/gateline/internal/telemetry"
)

var log = logger.New("main")

// version is set at build time via -ldflags.
var version = "dev"

const usage = `gateline - request/response safety gating pipeline

Usage:
  gateline serve   [-config path] [-port n]   Run the HTTP API
  gateline check   [-config path] <text>      Run one input through the pipeline
  gateline status  [-config path] [-port n]   Query a running server's safety status
  gateline reset   [-config path] [-port n]   Reset a running server's safety state
  gateline rules   [-config path]             List the loaded rule table
  gateline export  [-config path] -out path   Export the safety log to a file
  gateline completion -install|-uninstall     Manage shell tab-completion
  gateline version                            Print version
  gateline help                               Show this help
`

func main() {
	if completion.Run() {
		return
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "reset":
		err = runReset(os.Args[2:])
	case "rules":
		err = runRules(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "completion":
		err = runCompletion(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println("gateline " + version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

// setup loads config, applies logging settings, and builds the coordinator.
func setup(configPath string) (*config.Config, *pipeline.Coordinator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if lvl, err := logger.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Server.NoColor {
		logger.SetColored(false)
	}

	set, err := rules.NewLoader(cfg.Rules.UserDir).Load()
	if err != nil {
		return nil, nil, err
	}

	return cfg, pipeline.New(set, demoReasoner), nil
}

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "config file path")
	port := flags.Int("port", 0, "override the configured port")
	flags.Parse(args)

	cfg, coordinator, err := setup(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	var storage *telemetry.Storage
	if cfg.Audit.Enabled {
		storage, err = telemetry.NewStorage(cfg.Audit.DBPath, cfg.Audit.EncryptionKey)
		if err != nil {
			return err
		}
		defer storage.Close()
		coordinator.SetSink(storage)
	}

	server := api.New(coordinator, storage, cfg.Server.AdminToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.Server.Port)
	})

	log.Info("gateline %s serving on port %d", version, cfg.Server.Port)
	return g.Wait()
}

func runCheck(args []string) error {
	flags := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "config file path")
	flags.Parse(args)

	input := strings.Join(flags.Args(), " ")
	if input == "" {
		return fmt.Errorf("check: no input text given")
	}

	_, coordinator, err := setup(*configPath)
	if err != nil {
		return err
	}

	resp := coordinator.Handle(input)
	if resp.Accepted {
		fmt.Println(resp.Output)
		return nil
	}
	fmt.Printf("rejected at %s: %s\n", resp.Stage, resp.Reason)
	return nil
}

// serverURL resolves the address of a locally running serve instance.
func serverURL(configPath string, portOverride int) (string, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", "", err
	}
	port := cfg.Server.Port
	if portOverride != 0 {
		port = portOverride
	}
	return fmt.Sprintf("http://127.0.0.1:%d/api/v1", port), cfg.Server.AdminToken, nil
}

func runStatus(args []string) error {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "config file path")
	port := flags.Int("port", 0, "override the configured port")
	flags.Parse(args)

	base, _, err := serverURL(*configPath, *port)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/status")
	if err != nil {
		return fmt.Errorf("is gateline serve running? %w", err)
	}
	defer resp.Body.Close()

	_, err = io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return err
}

func runReset(args []string) error {
	flags := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "config file path")
	port := flags.Int("port", 0, "override the configured port")
	flags.Parse(args)

	base, adminToken, err := serverURL(*configPath, *port)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, base+"/reset", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Token", adminToken)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is gateline serve running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reset refused (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return err
}

func runRules(args []string) error {
	flags := flag.NewFlagSet("rules", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "config file path")
	flags.Parse(args)

	_, coordinator, err := setup(*configPath)
	if err != nil {
		return err
	}

	for _, r := range coordinator.Engine().Rules() {
		fmt.Printf("%-28s %-8s penalty=%-5d %s\n", r.Name, r.Severity, r.Penalty, r.Description)
	}
	return nil
}

func runExport(args []string) error {
	flags := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "config file path")
	out := flags.String("out", "safety_log.json", "output file path")
	flags.Parse(args)

	_, coordinator, err := setup(*configPath)
	if err != nil {
		return err
	}

	f, err := fileutil.SecureCreate(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := coordinator.Engine().ExportLog(f); err != nil {
		return err
	}
	log.Info("Safety log exported to %s", *out)
	return nil
}

func runCompletion(args []string) error {
	flags := flag.NewFlagSet("completion", flag.ExitOnError)
	doInstall := flags.Bool("install", false, "install shell completion")
	doUninstall := flags.Bool("uninstall", false, "uninstall shell completion")
	flags.Parse(args)

	switch {
	case *doInstall:
		if completion.IsInstalled() {
			fmt.Println("shell completion already installed")
			return nil
		}
		if err := completion.Install(); err != nil {
			return fmt.Errorf("install completion: %w", err)
		}
		fmt.Println("shell completion installed; restart your shell to enable it")
	case *doUninstall:
		if err := completion.Uninstall(); err != nil {
			return fmt.Errorf("uninstall completion: %w", err)
		}
		fmt.Println("shell completion uninstalled")
	default:
		fmt.Println("usage: gateline completion -install | -uninstall")
	}
	return nil
}

// demoReasoner stands in for a real reasoning backend. It only ever sees
// text that passed every input gate.
func demoReasoner(input string) string {
	return "gateline processed: " + input
}
