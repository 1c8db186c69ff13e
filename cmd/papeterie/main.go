package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ivlev/papeterie/internal/asset"
	"github.com/ivlev/papeterie/internal/config"
	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/remote"
	"github.com/ivlev/papeterie/internal/storage"
	"github.com/ivlev/papeterie/internal/tui"
)

var version = "dev"

func main() {
	configPtr := flag.String("config", "", "Path to a YAML config file")
	backendPtr := flag.String("backend", "", "Backend base URL (overrides config)")
	storagePtr := flag.String("storage", "", "UI state storage: sqlite, file, memory (overrides config)")
	storagePathPtr := flag.String("storage-path", "", "UI state file (overrides config)")
	historyPtr := flag.Int("max-history", -1, "Undo stack depth (overrides config)")
	directVisPtr := flag.Bool("direct-visibility", false, "Write visibility toggles straight to the backend")
	verbosePtr := flag.Bool("verbose", false, "Log optimization poll failures")
	openPtr := flag.String("open", "", "Asset to open at start, e.g. scene:harbor or sprite:boat")
	versionPtr := flag.Bool("version", false, "Print the version and exit")

	flag.Parse()

	if *versionPtr {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("[-] Config error: %v", err)
	}
	cfg.BuildVersion = version

	// Flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.BackendURL = *backendPtr
		case "storage":
			cfg.StorageBackend = *storagePtr
		case "storage-path":
			cfg.StoragePath = *storagePathPtr
		case "max-history":
			cfg.MaxHistory = *historyPtr
		case "direct-visibility":
			cfg.DirectVisibility = *directVisPtr
		case "verbose":
			cfg.Verbose = *verbosePtr
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Config error: %v", err)
	}

	kind, name, err := parseOpen(*openPtr)
	if err != nil {
		log.Fatalf("[-] %v", err)
	}

	// The terminal belongs to the UI; logs go to a file
	logFile, err := tea.LogToFile(cfg.LogFile, "papeterie ")
	if err != nil {
		log.Fatalf("[-] Cannot open log file: %v", err)
	}
	defer logFile.Close()
	logger := log.Default()
	logger.Printf("[*] papeterie %s, backend %s", cfg.BuildVersion, cfg.BackendURL)

	if err := os.MkdirAll(cfg.SnapshotDir, 0755); err != nil {
		logger.Printf("[!] Cannot create snapshot directory: %v", err)
	}

	backend, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("[-] Storage error: %v", err)
	}
	store := storage.New(backend, logger)
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := remote.NewClient(cfg.BackendURL, &http.Client{Timeout: cfg.RequestTimeout})
	bridge := tui.NewBridge()
	ctl := asset.New(client, store, bridge, bridge, asset.Options{
		MaxHistory:       cfg.MaxHistory,
		PollInterval:     cfg.PollInterval,
		Layout:           tui.Layout(),
		DirectVisibility: cfg.DirectVisibility,
		Logger:           logger,
		Verbose:          cfg.Verbose,
	})
	defer ctl.Shutdown()

	m := tui.New(ctx, ctl, bridge, tui.Options{
		Store:       store,
		SnapshotDir: cfg.SnapshotDir,
		Logger:      logger,
		Assets:      client,
		OpenKind:    kind,
		OpenName:    name,
	})
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		log.Fatalf("[-] UI error: %v", err)
	}
	logger.Printf("[*] Bye")
}

func parseOpen(s string) (model.AssetKind, string, error) {
	if s == "" {
		return "", "", nil
	}
	kind, name, ok := strings.Cut(s, ":")
	if !ok || name == "" || (model.AssetKind(kind) != model.KindScene && model.AssetKind(kind) != model.KindSprite) {
		return "", "", fmt.Errorf("bad -open %q, want scene:NAME or sprite:NAME", s)
	}
	return model.AssetKind(kind), name, nil
}

func openStorage(cfg config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageSQLite:
		if dir := filepath.Dir(cfg.StoragePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		return storage.OpenSQLite(cfg.StoragePath)
	case config.StorageFile:
		return storage.NewFileBackend(cfg.StoragePath)
	default:
		return storage.NewMemoryBackend(), nil
	}
}
