// Command presence-agent keeps one device-session present from a terminal.
// Every line read from stdin counts as keyboard input. Lines starting with a
// slash are commands: /busy [message], /dnd [message], /clear, /status and
// /channel [id] (no id clears the active channel).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"presence-service/internal/config"
	"presence-service/internal/domain"
	"presence-service/internal/presenceclient"
)

func main() {
	defaults := config.DefaultPresence()

	var (
		apiURL         = pflag.String("api-url", envOr("PRESENCE_API_URL", "http://localhost:8010/api/presence"), "presence API base URL")
		token          = pflag.String("token", os.Getenv("PRESENCE_TOKEN"), "bearer token")
		orgFlag        = pflag.String("organization", "", "organization id (required)")
		sessionFlag    = pflag.String("device-session", "", "device-session id (generated when empty)")
		interval       = pflag.Duration("interval", defaults.HeartbeatInterval, "heartbeat interval")
		idle           = pflag.Duration("idle", defaults.IdleThreshold, "inactivity window before away")
		retries        = pflag.Int("retries", defaults.MaxSendRetries, "retries per heartbeat")
		statusTTL      = pflag.Duration("status-ttl", 0, "expiry of /busy and /dnd (0 = until cleared)")
		requestTimeout = pflag.Duration("request-timeout", 10*time.Second, "HTTP request timeout")
		verbose        = pflag.BoolP("verbose", "v", false, "debug logging")
	)
	pflag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	orgID, err := uuid.Parse(*orgFlag)
	if err != nil {
		logger.Fatal("--organization must be a UUID", zap.String("value", *orgFlag))
	}
	sessionID := uuid.Nil
	if *sessionFlag != "" {
		if sessionID, err = uuid.Parse(*sessionFlag); err != nil {
			logger.Fatal("--device-session must be a UUID", zap.String("value", *sessionFlag))
		}
	}
	if *token == "" {
		logger.Fatal("a bearer token is required (--token or PRESENCE_TOKEN)")
	}

	emitterCfg := presenceclient.DefaultEmitterConfig()
	emitterCfg.Interval = *interval
	emitterCfg.MaxRetries = *retries

	hostname, _ := os.Hostname()
	session := presenceclient.NewSession(
		presenceclient.NewHTTPSender(*apiURL, *token, *requestTimeout),
		presenceclient.SessionConfig{
			OrganizationID:  orgID,
			DeviceSessionID: sessionID,
			Device: map[string]interface{}{
				"client":   "presence-agent",
				"os":       runtime.GOOS,
				"hostname": hostname,
			},
			IdleThreshold: *idle,
			Emitter:       emitterCfg,
		},
		quartz.NewReal(),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session.Start(ctx)
	logger.Info("Presence session started",
		zap.String("organization_id", orgID.String()),
		zap.String("device_session_id", session.DeviceSessionID().String()),
		zap.Duration("interval", *interval),
	)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			session.Touch(presenceclient.InputKeyboard)
			handleCommand(session, strings.TrimSpace(line), *statusTTL, logger)
		}
	}

	session.Close()
	// give the leaving signal a moment; delivery is not awaited beyond this
	time.Sleep(200 * time.Millisecond)
}

func handleCommand(session *presenceclient.Session, line string, ttl time.Duration, logger *zap.Logger) {
	if !strings.HasPrefix(line, "/") {
		return
	}
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "busy", "dnd":
		var msg *string
		if rest != "" {
			msg = &rest
		}
		if err := session.SetStatus(domain.PresenceStatus(name), ttl, msg); err != nil {
			logger.Warn("Cannot set status", zap.Error(err))
			return
		}
		logger.Info("Status set", zap.String("status", name))
	case "clear":
		session.ClearStatus()
		logger.Info("Status cleared")
	case "channel":
		if rest == "" {
			session.SetActiveChannel(nil)
			logger.Info("Active channel cleared")
			return
		}
		channelID, err := uuid.Parse(rest)
		if err != nil {
			logger.Warn("Invalid channel id", zap.String("channel", rest), zap.Error(err))
			return
		}
		session.SetActiveChannel(&channelID)
		logger.Info("Active channel set", zap.String("channel_id", channelID.String()))
	case "status":
		logger.Info("Current status", zap.String("status", string(session.Status())))
	default:
		logger.Warn("Unknown command", zap.String("command", name))
	}
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
