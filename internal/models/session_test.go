package models

import (
	"testing"
	"time"
)

func threeCrewRecord() *SessionRecord {
	return &SessionRecord{
		Code: "ABCDEF",
		Step: 1,
		Participants: []Participant{
			{ID: "p1", Name: "Ada", Role: RoleOwner},
			{ID: "p2", Name: "Ben", Role: RolePlayer},
			{ID: "p3", Name: "Cleo", Role: RolePlayer},
		},
	}
}

func TestReadyCountIgnoresUnknownVoters(t *testing.T) {
	rec := threeCrewRecord()
	rec.Validation = &ValidationRequest{
		NextStep: 2,
		ReadyIDs: []string{"p1", "p2", "ghost"},
	}
	if got := rec.ReadyCount(); got != 2 {
		t.Errorf("ReadyCount() = %d, want 2", got)
	}
	if rec.QuorumReached() {
		t.Error("QuorumReached() = true with one vote missing")
	}

	rec.Validation.ReadyIDs = append(rec.Validation.ReadyIDs, "p3")
	if !rec.QuorumReached() {
		t.Error("QuorumReached() = false with all three votes")
	}
}

func TestQuorumNeverReachedWithoutParticipants(t *testing.T) {
	rec := &SessionRecord{
		Validation: &ValidationRequest{NextStep: 2, ReadyIDs: []string{"p1"}},
	}
	if rec.QuorumReached() {
		t.Error("QuorumReached() = true with zero participants")
	}
}

func TestReadyCountWithoutValidation(t *testing.T) {
	rec := threeCrewRecord()
	if got := rec.ReadyCount(); got != 0 {
		t.Errorf("ReadyCount() = %d, want 0", got)
	}
	if rec.QuorumReached() {
		t.Error("QuorumReached() = true without a validation request")
	}
}

func TestStepStartedAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	rec := &SessionRecord{StartedAt: start}
	if got := rec.StepStartedAt(); !got.Equal(start) {
		t.Errorf("StepStartedAt() = %v, want session start", got)
	}
	commit := start.Add(12 * time.Minute)
	rec.LastStepAt = commit
	if got := rec.StepStartedAt(); !got.Equal(commit) {
		t.Errorf("StepStartedAt() = %v, want last commit", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := threeCrewRecord()
	rec.Proposal = &PendingProposal{ParticipantID: "p2", Action: "solved it"}
	rec.Validation = &ValidationRequest{NextStep: 2, ReadyIDs: []string{"p1"}}
	rec.Command = &AdminCommand{ID: 4, Kind: CommandMessage, Payload: "hi"}
	rec.Challenge = &ActiveChallenge{ID: 2, Kind: ChallengeMorse}
	rec.History = []HistoryEntry{{Step: 1, SolvedBy: "Ada"}}

	clone := rec.Clone()
	clone.Participants[0].Name = "Zed"
	clone.Validation.ReadyIDs = append(clone.Validation.ReadyIDs, "p2")
	clone.Proposal.Action = "changed"
	clone.Command.ID = 99
	clone.Challenge.ID = 99
	clone.History[0].SolvedBy = "nobody"

	if rec.Participants[0].Name != "Ada" {
		t.Error("Clone() shares participant backing array")
	}
	if len(rec.Validation.ReadyIDs) != 1 {
		t.Error("Clone() shares ready id slice")
	}
	if rec.Proposal.Action != "solved it" {
		t.Error("Clone() shares proposal pointer")
	}
	if rec.Command.ID != 4 || rec.Challenge.ID != 2 {
		t.Error("Clone() shares command/challenge pointers")
	}
	if rec.History[0].SolvedBy != "Ada" {
		t.Error("Clone() shares history backing array")
	}
}

func TestCloneNil(t *testing.T) {
	var rec *SessionRecord
	if rec.Clone() != nil {
		t.Error("Clone() on nil record should return nil")
	}
}

func TestFindParticipant(t *testing.T) {
	rec := threeCrewRecord()
	if p := rec.FindParticipant("p2"); p == nil || p.Name != "Ben" {
		t.Errorf("FindParticipant(p2) = %v", p)
	}
	if p := rec.FindParticipant("ghost"); p != nil {
		t.Errorf("FindParticipant(ghost) = %v, want nil", p)
	}
}
