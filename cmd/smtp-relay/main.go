// Package main is the entry point for the Gmail SMTP relay.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gmailtools/smtp-relay/internal/config"
	"github.com/gmailtools/smtp-relay/internal/credential"
	"github.com/gmailtools/smtp-relay/internal/gateway"
	"github.com/gmailtools/smtp-relay/internal/gateway/gmail"
	"github.com/gmailtools/smtp-relay/internal/gateway/stdout"
	"github.com/gmailtools/smtp-relay/internal/policy"
	"github.com/gmailtools/smtp-relay/internal/smtp"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	host := flag.String("host", "", "host to bind to, overrides configuration")
	port := flag.Int("port", 0, "port to listen on, overrides configuration")
	domain := flag.String("domain", "", "restrict senders to this domain, overrides configuration")
	dryRun := flag.Bool("dry-run", false, "print accepted messages instead of calling the Gmail API")
	flag.Parse()

	// A .env file in the working directory supplies environment variables.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// CLI flags override both YAML and environment
	if *host != "" {
		cfg.SMTP.Host = *host
	}
	if *port != 0 {
		cfg.SMTP.Port = *port
	}
	if *domain != "" {
		cfg.SMTP.AllowedDomain = *domain
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Select the outbound delivery gateway; a missing or broken credential
	// file is unrecoverable and exits here.
	gw := selectGateway(cfg, *dryRun)

	pol := policy.New(cfg.SMTP.AllowedDomain)

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.Listen(),
		Hostname:       "localhost",
		Policy:         pol,
		Gateway:        gw,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
	})

	slog.Info("starting smtp-relay",
		"listen", cfg.Listen(),
		"gateway", gw.Name(),
		"allowed_domain", cfg.SMTP.AllowedDomain,
	)
	if !cfg.Restricted() {
		slog.Warn("no sender domain restriction configured, any Workspace sender is accepted")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("smtp-relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectGateway chooses the outbound delivery backend. Dry runs print to
// stdout and need no credentials; otherwise the service account key file is
// loaded once for the process lifetime.
func selectGateway(cfg *config.Config, dryRun bool) gateway.Gateway {
	if dryRun {
		slog.Info("using stdout gateway (dry run)")
		return stdout.New()
	}

	creds, err := credential.Load(cfg.Gmail.CredentialsFile)
	if err != nil {
		slog.Error("failed to load service account credentials", "error", err)
		os.Exit(1)
	}

	slog.Info("loaded service account credentials",
		"file", cfg.Gmail.CredentialsFile,
		"service_account", creds.Email(),
	)
	return gmail.New(creds)
}
