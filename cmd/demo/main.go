// Command demo runs a scripted skirmish against the in-process engine and
// prints every resolution event as it streams. Useful for eyeballing run
// ordering and pacing without a client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

var (
	seed    = flag.Int64("seed", 42, "match seed (0 picks a random one)")
	rounds  = flag.Int("rounds", 12, "maximum rounds before giving up")
	quick   = flag.Bool("quick", false, "skip presentation pacing")
	verbose = flag.Bool("v", false, "log engine internals")
)

const matchID = "demo"

func main() {
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatalf("logger: %v", err)
		}
	}

	catalog := content.Default()
	engine := game.NewEngine(catalog, demoOptions(*quick), logger)

	lineup := []game.CombatantSetup{
		{ID: "ash", Name: "Ash", MaxHealth: 30},
		{ID: "brynn", Name: "Brynn", MaxHealth: 30},
		{ID: "cole", Name: "Cole", MaxHealth: 30},
	}
	if err := engine.CreateMatch(matchID, *seed, lineup); err != nil {
		log.Fatalf("create match: %v", err)
	}

	if _, err := engine.Subscribe(matchID, resolve.ObserverFunc(func(ev resolve.Event) {
		printEvent(engine, catalog, ev, *quick)
	})); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	view, err := engine.MatchView(matchID)
	if err != nil {
		log.Fatalf("match view: %v", err)
	}
	fmt.Printf("skirmish %s, seed %d, %d combatants\n", matchID, view.Seed, len(view.Combatants))

	ctx := context.Background()
	for round := 1; round <= *rounds; round++ {
		view, err = engine.MatchView(matchID)
		if err != nil {
			log.Fatalf("match view: %v", err)
		}
		if view.State == game.MatchStateFinished {
			break
		}

		fmt.Printf("\n--- round %d ---\n", round)
		printRoster(view)
		queuePlays(engine, catalog, view)

		report, resErr := engine.StartResolution(ctx, matchID)
		if resErr != nil {
			log.Fatalf("resolution: %v", resErr)
		}
		fmt.Printf("run %s: drained %d, executed %d, skipped %d in %s\n",
			report.RunID, report.Drained, report.Executed, report.Skipped,
			report.Duration.Round(time.Millisecond))
	}

	view, err = engine.MatchView(matchID)
	if err != nil {
		log.Fatalf("match view: %v", err)
	}
	fmt.Println()
	printRoster(view)
	if view.State == game.MatchStateFinished {
		for _, c := range view.Combatants {
			if c.Alive {
				fmt.Printf("%s wins after %d rounds\n", c.Name, view.Round)
			}
		}
	} else {
		fmt.Printf("no winner after %d rounds\n", *rounds)
	}

	if err := engine.CloseMatch(matchID); err != nil {
		log.Fatalf("close match: %v", err)
	}
}

func demoOptions(quick bool) game.Options {
	opts := game.DefaultOptions()
	// Rounds are driven by the script, not a ticking window.
	opts.WindowDuration = 0
	if quick {
		opts.Timing = resolve.Timing{}
	} else {
		opts.Timing = resolve.Timing{
			MinDwell:            150 * time.Millisecond,
			MaxWait:             400 * time.Millisecond,
			InterActionDelay:    100 * time.Millisecond,
			StartDelayBase:      200 * time.Millisecond,
			StartDelayPerAction: 50 * time.Millisecond,
		}
	}
	return opts
}

type pref struct {
	cardID  string
	targets []string
}

// queuePlays scripts one round of plays: wounded combatants mend, everyone
// else works down a fixed preference list until energy runs out.
func queuePlays(engine *game.Engine, catalog *content.Catalog, view game.MatchView) {
	for _, c := range view.Combatants {
		if !c.Alive {
			continue
		}
		var enemies []string
		for _, other := range view.Combatants {
			if other.Alive && other.ID != c.ID {
				enemies = append(enemies, other.ID)
			}
		}
		if len(enemies) == 0 {
			continue
		}

		prefs := []pref{
			{"strike", enemies[:1]},
			{"ignite", enemies[:1]},
			{"aegis", nil},
		}
		if c.Health*2 < c.MaxHealth {
			prefs = append([]pref{{"mend", nil}}, prefs...)
		}

		for _, p := range prefs {
			if _, err := engine.QueuePlay(matchID, c.ID, p.cardID, p.targets); err != nil {
				continue
			}
			card, _ := catalog.Card(p.cardID)
			if len(p.targets) > 0 {
				fmt.Printf("%s plays %s at %s\n", c.Name, card.Name, strings.Join(p.targets, ", "))
			} else {
				fmt.Printf("%s plays %s\n", c.Name, card.Name)
			}
		}
	}
}

func printRoster(view game.MatchView) {
	energy := make(map[string]int, len(view.Energy))
	for _, e := range view.Energy {
		energy[e.CombatantID] = e.Current
	}
	for _, c := range view.Combatants {
		mark := " "
		if !c.Alive {
			mark = "x"
		}
		fmt.Printf("%s %-6s hp %2d/%2d  energy %2d\n", mark, c.Name, c.Health, c.MaxHealth, energy[c.ID])
	}
}

// printEvent narrates the event stream. On the order announcement it also
// spawns a fake presentation pass that signals each action done, so the
// completion gates release early the way a real client would.
func printEvent(engine *game.Engine, catalog *content.Catalog, ev resolve.Event, quick bool) {
	switch ev.Type {
	case resolve.EventResolutionStarted:
		fmt.Printf("  order announced (%d actions):\n", len(ev.Order))
		for i, s := range ev.Order {
			name := s.PayloadRef
			if card, ok := catalog.Card(s.PayloadRef); ok {
				name = card.Name
			}
			fmt.Printf("    %d. %s %s (initiative %d)\n", i+1, s.SourceID, name, s.Initiative)
		}
		if !quick {
			order := ev.Order
			go func() {
				for _, s := range order {
					time.Sleep(120 * time.Millisecond)
					engine.SignalPresentation(matchID, s.ActionID)
				}
			}()
		}
	case resolve.EventActionFinished:
		fmt.Printf("  [%d] done\n", ev.Index+1)
	case resolve.EventActionSkipped:
		fmt.Printf("  [%d] skipped (%s)\n", ev.Index+1, ev.Reason)
	case resolve.EventResolutionEnded:
		fmt.Println("  resolution ended")
	case resolve.EventResolutionEmpty:
		fmt.Println("  nothing to resolve")
	}
}
