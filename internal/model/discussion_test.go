package model

import (
	"testing"
	"time"
)

func TestSortTurns_AscendingRegardlessOfInsertion(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := DiscussionTurn{Timestamp: base, Input: "T1"}
	t2 := DiscussionTurn{Timestamp: base.Add(time.Minute), Input: "T2"}
	t3 := DiscussionTurn{Timestamp: base.Add(2 * time.Minute), Input: "T3"}

	turns := []DiscussionTurn{t2, t1, t3}
	SortTurns(turns)

	want := []string{"T1", "T2", "T3"}
	for i, turn := range turns {
		if turn.Input != want[i] {
			t.Fatalf("turns[%d] = %s, want %s", i, turn.Input, want[i])
		}
	}
}

func TestAidTypeValid(t *testing.T) {
	for _, a := range []AidType{AidThink, AidWhy, AidList, AidBackground, AidExplore} {
		if !a.Valid() {
			t.Errorf("%q should be valid", a)
		}
	}
	if AidType("quiz").Valid() {
		t.Error("unknown aid type reported valid")
	}
}

func TestUserProfileOnboarded(t *testing.T) {
	var p UserProfile
	if p.Onboarded() {
		t.Error("empty profile reported onboarded")
	}
	p.Motivation = "growth"
	if !p.Onboarded() {
		t.Error("profile with narrative reported not onboarded")
	}
}
