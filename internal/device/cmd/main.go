// Command lockstep-device runs a terminal device: it joins or resumes a
// session, polls the store, and drives the scenario through a line-based
// console in place of a touch surface.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/device"
	"github.com/lockstep-games/lockstep/internal/identity"
	"github.com/lockstep-games/lockstep/internal/localstate"
	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/scenario"
	"github.com/lockstep-games/lockstep/internal/store"
	syncpkg "github.com/lockstep-games/lockstep/internal/sync"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	var (
		storeURL     = flag.String("store", getEnv("STORE_URL", "http://localhost:8080"), "session store base URL")
		scenarioPath = flag.String("scenario", getEnv("SCENARIO_PATH", "configs/midnight-heist.yaml"), "scenario definition file")
		statePath    = flag.String("state", getEnv("DEVICE_STATE", "lockstep-device.db"), "device-local state file")
		code         = flag.String("join", "", "session code to join")
		name         = flag.String("name", "", "display name when joining")
		owner        = flag.Bool("owner", false, "join as the session owner")
		create       = flag.Bool("create", false, "create a new session and join as owner")
	)
	flag.Parse()

	ctx := context.Background()

	def, err := scenario.Load(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load scenario: %v\n", err)
		os.Exit(1)
	}

	state, err := localstate.Open(ctx, *statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open device state: %v\n", err)
		os.Exit(1)
	}
	defer state.Close()

	client := store.NewHTTPClient(*storeURL)
	manager := identity.NewManager(state)

	ident, err := resolveIdentity(ctx, manager, client, *create, *code, *name, *owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Session %s as %q", ident.SessionCode, ident.DisplayName)
	if ident.Owner {
		fmt.Print(" (owner)")
	}
	fmt.Println()

	synchronizer := syncpkg.New(client, pollConfig())
	console := &consoleRenderer{}
	dev := device.New(ident, synchronizer, def, state, console, clockwork.NewRealClock())
	dev.Start()
	defer dev.Stop()

	runConsole(ctx, dev, console, manager)
}

// resolveIdentity picks one of create / join / resume, in that order.
func resolveIdentity(ctx context.Context, manager *identity.Manager, client store.Client, create bool, code, name string, owner bool) (identity.Identity, error) {
	switch {
	case create:
		if name == "" {
			return identity.Identity{}, fmt.Errorf("-name is required with -create")
		}
		rec, err := client.Create(ctx)
		if err != nil {
			return identity.Identity{}, fmt.Errorf("failed to create session: %w", err)
		}
		return manager.Join(ctx, rec.Code, name, true)
	case code != "":
		if name == "" {
			return identity.Identity{}, fmt.Errorf("-name is required with -join")
		}
		return manager.Join(ctx, code, name, owner)
	default:
		ident, err := manager.Resume(ctx)
		if errors.Is(err, identity.ErrNoIdentity) {
			return identity.Identity{}, fmt.Errorf("no saved session, use -create or -join CODE -name NAME")
		}
		return ident, err
	}
}

func runConsole(ctx context.Context, dev *device.Device, console *consoleRenderer, manager *identity.Manager) {
	fmt.Println("Commands: status, solve, ready, reject, hint, beat, leave, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "status":
			printStatus(dev)
		case "solve":
			console.solveActive()
		case "ready":
			dev.VoteReady()
			fmt.Println("Readiness recorded.")
		case "reject":
			dev.Protocol().RejectProposal()
			fmt.Println("Proposal rejected.")
		case "hint":
			dev.RequestHint()
		case "beat":
			resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			dev.ResolveChallenge(resolveCtx)
			cancel()
			fmt.Println("Challenge beaten.")
		case "leave":
			dev.Stop()
			if err := manager.Leave(ctx); err != nil {
				fmt.Printf("leave failed: %v\n", err)
				return
			}
			fmt.Println("Left the session.")
			return
		case "quit", "exit":
			return
		default:
			fmt.Println("Unknown command.")
		}
	}
}

func printStatus(dev *device.Device) {
	rec, errMsg := dev.Snapshot()
	if rec == nil {
		if errMsg != "" {
			fmt.Printf("No session data: %s\n", errMsg)
		} else {
			fmt.Println("Waiting for the first poll...")
		}
		return
	}
	engine := dev.Engine()
	fmt.Printf("Step %d/%d  %s\n", engine.ActiveStep(rec), engine.Definition().StepCount(), rec.Status)
	if engine.Victory(rec) {
		fmt.Println("Scenario complete!")
	} else {
		fmt.Printf("Time remaining: %s\n", engine.Remaining(rec).Round(time.Second))
	}
	for _, p := range rec.Participants {
		fmt.Printf("  - %s (%s)\n", p.Name, p.Role)
	}
	if rec.Proposal != nil {
		fmt.Printf("Proposal: %s by %s\n", rec.Proposal.Action, rec.Proposal.ParticipantName)
	}
	if rec.Validation != nil {
		fmt.Printf("Vote in progress: %d/%d ready\n", rec.ReadyCount(), len(rec.Participants))
	}
}

// consoleRenderer draws the device surface as plain terminal lines and
// keeps the latest puzzle so "solve" can fire its callback.
type consoleRenderer struct {
	mu     sync.Mutex
	puzzle *device.PuzzleContext
}

func (c *consoleRenderer) solveActive() {
	c.mu.Lock()
	puzzle := c.puzzle
	c.mu.Unlock()
	if puzzle == nil {
		fmt.Println("No puzzle presented yet.")
		return
	}
	if puzzle.Solved {
		fmt.Println("Already solved.")
		return
	}
	puzzle.Solve()
	fmt.Printf("Reported %q solved.\n", puzzle.Title)
}

func (c *consoleRenderer) ShowMessage(text string) {
	fmt.Printf("\n[message] %s\n> ", text)
}

func (c *consoleRenderer) ShowError(message string) {
	if message == "" {
		fmt.Print("\n[store] connection restored\n> ")
		return
	}
	fmt.Printf("\n[store] %s\n> ", message)
}

func (c *consoleRenderer) SetGlitch(on bool) {
	if on {
		fmt.Print("\n[effect] screen glitching\n> ")
	} else {
		fmt.Print("\n[effect] glitch cleared\n> ")
	}
}

func (c *consoleRenderer) SetInverted(on bool) {
	fmt.Printf("\n[effect] inverted colors: %v\n> ", on)
}

func (c *consoleRenderer) PresentPuzzle(puzzle device.PuzzleContext) {
	c.mu.Lock()
	c.puzzle = &puzzle
	c.mu.Unlock()
	fmt.Printf("\n=== Step %d: %s ===\n", puzzle.Step, puzzle.Title)
	for _, line := range puzzle.Dialogue[device.PhaseIntro] {
		fmt.Printf("  %s\n", line)
	}
	fmt.Print("> ")
}

func (c *consoleRenderer) OpenChallenge(ch models.ActiveChallenge) {
	fmt.Printf("\n!!! Side challenge: %s (%s)\n> ", ch.Kind, ch.Payload)
}

func (c *consoleRenderer) DismissChallenge() {
	fmt.Print("\nChallenge closed.\n> ")
}

// pollConfig returns the poll cadence, with per-role env overrides.
func pollConfig() syncpkg.Config {
	cfg := syncpkg.DefaultConfig()
	cfg.OwnerInterval = getEnvAsDuration("OWNER_POLL_INTERVAL", cfg.OwnerInterval)
	cfg.PlayerInterval = getEnvAsDuration("PLAYER_POLL_INTERVAL", cfg.PlayerInterval)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
