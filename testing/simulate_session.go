package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tatianab/ai-game-assistant/internal/config"
	"github.com/tatianab/ai-game-assistant/internal/engine"
	"github.com/tatianab/ai-game-assistant/internal/loop"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

const maxTurns = 10

// Drives the loop turn by turn against a live emulator server and the
// configured provider, printing every decision. Usage:
//
//	go run ./testing <rom> [goal]
func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <rom> [goal]", os.Args[0])
	}
	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	eng := engine.NewEngine()
	defer eng.Close()

	l := loop.New(loop.Options{
		Settings:  cfg.Settings,
		Inference: eng,
	})

	fmt.Println("--- Step 1: Listing models ---")
	list := l.RefreshModels(ctx)
	fmt.Printf("%d models, using %q\n\n", len(list), l.Settings().SelectedModel)

	fmt.Println("--- Step 2: Loading ROM ---")
	rom, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to open ROM: %v", err)
	}
	defer rom.Close()
	if err := l.LoadROM(ctx, filepath.Base(os.Args[1]), rom); err != nil {
		log.Fatalf("Failed to load ROM: %v", err)
	}
	snap := l.Snapshot()
	fmt.Printf("Map: %s %v\n\n", snap.Map.Name, snap.Map.Coords)

	if len(os.Args) > 2 {
		l.SetGoal(os.Args[2])
	}
	if err := l.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	for turn := 1; turn <= maxTurns; turn++ {
		fmt.Printf("--- Turn %d ---\n", turn)
		l.Tick(ctx)

		snap := l.Snapshot()
		if snap.State != models.AIStateRunning {
			fmt.Printf("Loop stopped: %s\n", snap.ChatHistory[len(snap.ChatHistory)-1].Text)
			break
		}
		fmt.Printf("Action: %s\n", snap.LastAction())
		fmt.Printf("Reasoning: %s\n", snap.Reasoning)
		fmt.Printf("Map: %s %v, party: %d, dialogue: %q\n\n", snap.Map.Name, snap.Map.Coords, len(snap.Party), snap.Dialogue)
	}
	l.Stop()
}
