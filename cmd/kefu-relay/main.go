// ABOUTME: Entry point for the kefu-relay server
// ABOUTME: Bridges WeCom customer-service accounts and gateway processes

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/szjhtz/easyclaw-sub002/internal/config"
	"github.com/szjhtz/easyclaw-sub002/internal/gateway"
	"github.com/szjhtz/easyclaw-sub002/internal/relay"
	"github.com/szjhtz/easyclaw-sub002/internal/store"
	"github.com/szjhtz/easyclaw-sub002/internal/wecom"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _         __                       _
| | _____ / _|_   _      _ __ ___| | __ _ _   _
| |/ / _ \ |_| | | |____| '__/ _ \ |/ _' | | | |
|   <  __/  _| |_| |____| | |  __/ | (_| | |_| |
|_|\_\___|_|  \__,_|    |_|  \___|_|\__,_|\__, |
                                          |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: KEFU_RELAY_CONFIG env var > XDG_CONFIG_HOME/kefu-relay/relay.yaml > ~/.config/kefu-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("KEFU_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "kefu-relay", "relay.yaml")
}

// getDataPath returns the path to the relay data directory.
// Priority: XDG_DATA_HOME/kefu-relay > ~/.local/share/kefu-relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "kefu-relay")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: kefu-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the relay server")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check relay health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Account:  %s\n", cfg.WeCom.OpenKfID)
	fmt.Println()

	logger.Info("starting kefu-relay",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"open_kf_id", cfg.WeCom.OpenKfID,
	)

	kp, err := wecom.DecodeKey(cfg.WeCom.EncodingAESKey)
	if err != nil {
		return fmt.Errorf("decoding encoding_aes_key: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	client := wecom.NewClient(wecom.ClientConfig{
		BaseURL:    cfg.WeCom.APIBaseURL,
		CorpID:     cfg.WeCom.CorpID,
		CorpSecret: cfg.WeCom.CorpSecret,
		OpenKfID:   cfg.WeCom.OpenKfID,
	}, logger)

	registry := gateway.NewRegistry(logger)

	rly := relay.New(relay.Config{
		CorpID:        cfg.WeCom.CorpID,
		CallbackToken: cfg.WeCom.CallbackToken,
		Keypair:       kp,
		ContactScene:  cfg.WeCom.ContactScene,
	}, st, client, registry, logger)

	wsServer := gateway.NewServer(gateway.ServerConfig{
		AuthSecret:        cfg.Gateway.AuthSecret,
		AuthWindow:        cfg.Gateway.AuthWindow,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Gateway.HeartbeatTimeout,
	}, registry, rly, logger)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/webhook", rly.HandleVerify)
	router.Post("/webhook", rly.HandleCallback)
	router.Get("/ws", wsServer.HandleWS)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","gateways":%d}`, registry.Count())
	})

	go rly.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.ListenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "relay.db")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# kefu-relay configuration
# Generated by kefu-relay init

server:
  listen_addr: "0.0.0.0:8080"

wecom:
  corp_id: "${WECOM_CORP_ID}"
  corp_secret: "${WECOM_CORP_SECRET}"
  callback_token: "${WECOM_CALLBACK_TOKEN}"
  encoding_aes_key: "${WECOM_ENCODING_AES_KEY}"
  open_kf_id: "${WECOM_OPEN_KF_ID}"
  contact_scene: 1

gateway:
  auth_secret: "${GATEWAY_AUTH_SECRET}"
  auth_window: "5s"
  heartbeat_interval: "30s"
  heartbeat_timeout: "10s"

database:
  path: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Fill in the WeCom credentials (directly or via environment")
	fmt.Println("variables), then start the server:")
	fmt.Println("  kefu-relay serve")

	return nil
}
