// Command draftpilot runs the document copilot backend: chat persistence
// API plus the scripted streaming endpoints, and a terminal chat client
// for exercising a running server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"draftpilot/internal/adapter/httpapi"
	"draftpilot/internal/adapter/store"
	"draftpilot/internal/domain"
	"draftpilot/internal/infra/config"
	"draftpilot/internal/infra/logger"
	"draftpilot/internal/infra/tracer"
	"draftpilot/internal/usecase/chatflow"
)

const defaultConfigPath = "draftpilot.yaml"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case "chat":
		if err := runChat(); err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'draftpilot --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Print(`draftpilot - document copilot backend

Usage:
  draftpilot [serve]    start the HTTP server (default)
  draftpilot chat       interactive chat against a running server
  draftpilot --help     show this help

Configuration is read from draftpilot.yaml, a .env file, and
DRAFTPILOT_* environment variables.
`)
}

func runServe() error {
	cfg, err := config.Load(defaultConfigPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	if dir := filepath.Dir(cfg.Store.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	chatStore, err := store.NewSQLiteChatStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer chatStore.Close()

	srv := httpapi.NewServer(ctx, cfg, chatStore, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	log.Info("draftpilot started", "addr", cfg.Server.Addr, "db", cfg.Store.Path)
	return g.Wait()
}

// runChat drives the session controller against a running server from the
// terminal: one line per turn, streamed reply echoed as it settles.
func runChat() error {
	cfg, err := config.Load(defaultConfigPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatID := domain.NewID()
	state := chatflow.NewState(nil)
	ctrl := chatflow.NewController(state, chatflow.Options{
		API:    strings.TrimSuffix(cfg.Client.API, "/") + "/" + chatID,
		ChatID: chatID,
		Model:  cfg.Client.Model,
		Logger: log,
		OnFinish: func(res chatflow.FinishResult) {
			switch {
			case res.IsError:
				fmt.Println("\n[turn failed]")
			case res.IsAbort:
				fmt.Println("\n[canceled]")
			default:
				fmt.Printf("\nassistant> %s\n", res.Message.Text())
			}
		},
	})

	fmt.Printf("chat %s against %s (empty line or Ctrl-D quits)\n", chatID, cfg.Client.API)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if err := ctrl.Send(ctx, line); err != nil {
			log.Error("turn failed", "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}
