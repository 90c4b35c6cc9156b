package game

import (
	"testing"

	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

func TestJournalRecordsEvents(t *testing.T) {
	journal := NewJournal("match-1")

	journal.OnResolutionEvent(resolve.NewStartedEvent("run-1", []resolve.Summary{{ActionID: "a1"}}))
	journal.OnResolutionEvent(resolve.NewFinishedEvent("run-1", 0, "a1"))
	journal.OnResolutionEvent(resolve.NewEndedEvent("run-1"))
	journal.OnResolutionEvent(resolve.NewEmptyEvent("run-2"))

	if journal.Size() != 4 {
		t.Fatalf("expected 4 events, got %d", journal.Size())
	}

	runOne := journal.RunEvents("run-1")
	if len(runOne) != 3 {
		t.Fatalf("expected 3 events for run-1, got %d", len(runOne))
	}
	if runOne[0].Type != resolve.EventResolutionStarted || runOne[2].Type != resolve.EventResolutionEnded {
		t.Fatalf("run-1 events out of order: %v then %v", runOne[0].Type, runOne[2].Type)
	}

	ids := journal.RunIDs()
	if len(ids) != 2 || ids[0] != "run-1" || ids[1] != "run-2" {
		t.Fatalf("expected run ids [run-1 run-2], got %v", ids)
	}
}

func TestJournalSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	journal := NewJournal("match-7")
	journal.OnResolutionEvent(resolve.NewStartedEvent("run-1", []resolve.Summary{
		{ActionID: "a1", SourceID: "hero", TargetIDs: []string{"rival"}, Initiative: 5, PayloadRef: "strike"},
	}))
	journal.OnResolutionEvent(resolve.NewSkippedEvent("run-1", 0, "a1", resolve.ReasonContextEnded))
	journal.OnResolutionEvent(resolve.NewEndedEvent("run-1"))

	if err := journal.SaveToFile(dir); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadJournalFromFile(dir, "match-7")
	if err != nil {
		t.Fatalf("LoadJournalFromFile failed: %v", err)
	}
	if loaded.MatchID != "match-7" {
		t.Fatalf("expected match-7, got %s", loaded.MatchID)
	}
	if loaded.Size() != 3 {
		t.Fatalf("expected 3 events, got %d", loaded.Size())
	}

	events := loaded.Events()
	if events[0].Type != resolve.EventResolutionStarted {
		t.Fatalf("first event should be the announcement, got %v", events[0].Type)
	}
	if len(events[0].Order) != 1 || events[0].Order[0].PayloadRef != "strike" {
		t.Fatalf("announcement order lost in round trip: %+v", events[0].Order)
	}
	if events[1].Reason != resolve.ReasonContextEnded {
		t.Fatalf("skip reason lost in round trip: %q", events[1].Reason)
	}
}

func TestLoadJournalMissingFile(t *testing.T) {
	if _, err := LoadJournalFromFile(t.TempDir(), "nope"); err == nil {
		t.Fatal("loading a missing journal must fail")
	}
}
