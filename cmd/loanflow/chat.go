package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/finagents/loanflow/agent/handoff"
)

// runChat drives the orchestrator from a terminal session. It builds the
// same pipeline as serve, minus the HTTP surface.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	cfg.Log.Format = "console"
	if cfg.Log.Level == "" || cfg.Log.Level == "info" {
		cfg.Log.Level = "warn" // keep the transcript readable
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	controller, store, _, err := buildOrchestrator(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sessionID := uuid.NewString()
	fmt.Printf("loanflow %s (session %s)\n", Version, sessionID)
	fmt.Println(`Type your message and press Enter. "exit" or Ctrl-D to quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			return
		}
		if input == "" {
			continue
		}

		result, err := controller.SubmitTurn(ctx, sessionID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		fmt.Printf("[%s] %s\n", result.State, result.Reply)
		if result.Warning != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", result.Warning)
		}
		if result.State == handoff.StateTerminated {
			fmt.Println("Session concluded.")
			return
		}
	}
}
