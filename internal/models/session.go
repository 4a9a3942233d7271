package models

import (
	"time"
)

// ParticipantRole defines the role a device plays in a session.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "OWNER"
	RolePlayer ParticipantRole = "PLAYER"
)

// CommandKind defines the effect an admin command triggers on every device.
type CommandKind string

const (
	CommandMessage CommandKind = "MESSAGE"
	CommandGlitch  CommandKind = "GLITCH"
	CommandInvert  CommandKind = "INVERT"
	CommandSkip    CommandKind = "SKIP"
	CommandAddTime CommandKind = "ADD_TIME"
)

// ChallengeKind defines the blocking mini-game a challenge forces open.
type ChallengeKind string

const (
	ChallengeMorse  ChallengeKind = "MORSE"
	ChallengeCipher ChallengeKind = "CIPHER"
	ChallengeSignal ChallengeKind = "SIGNAL"
)

// Participant is a device that has written itself into the session record.
// Participants are unique by ID and are never removed in normal flow; a
// device that disconnects mid-session keeps counting toward quorum.
type Participant struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
}

// PendingProposal is a non-binding "I did this" suggestion from a
// participant. At most one exists; a new proposal overwrites the previous.
type PendingProposal struct {
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Action          string    `json:"action"`
	CreatedAt       time.Time `json:"created_at"`
}

// ValidationRequest is the binding, vote-gated request to advance the
// session to NextStep. It is destroyed the instant the commit is written.
type ValidationRequest struct {
	NextStep    int       `json:"next_step"`
	InitiatorID string    `json:"initiator_id"`
	ProposedBy  string    `json:"proposed_by,omitempty"`
	ReadyIDs    []string  `json:"ready_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasVoted reports whether the participant already acknowledged readiness.
func (v *ValidationRequest) HasVoted(participantID string) bool {
	for _, id := range v.ReadyIDs {
		if id == participantID {
			return true
		}
	}
	return false
}

// HistoryEntry records a completed step. History is append-only.
type HistoryEntry struct {
	Step            int       `json:"step"`
	SolvedBy        string    `json:"solved_by"`
	SolvedAt        time.Time `json:"solved_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

// AdminCommand is a one-shot session-wide signal. The record's copy is never
// cleared by convention; each device dedups strictly by comparing ID against
// its locally persisted high-water mark.
type AdminCommand struct {
	ID      int64       `json:"id"`
	Kind    CommandKind `json:"kind"`
	Payload string      `json:"payload,omitempty"`
}

// ActiveChallenge is a longer-lived blocking interruption. It stays in the
// record until the owner clears it; devices that resolve it persist the ID
// locally so the same challenge never reopens.
type ActiveChallenge struct {
	ID      int64         `json:"id"`
	Kind    ChallengeKind `json:"kind"`
	Payload string        `json:"payload,omitempty"`
}

// SessionRecord is the single shared mutable document keyed by session code.
// Every device holds a cached copy and overwrites the whole record on write;
// there is no merge and no concurrency token, so concurrent writers race
// last-writer-wins.
type SessionRecord struct {
	Code         string             `json:"code"`
	Step         int                `json:"step"`
	Status       string             `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	Participants []Participant      `json:"participants"`
	History      []HistoryEntry     `json:"history"`
	Proposal     *PendingProposal   `json:"proposal,omitempty"`
	Validation   *ValidationRequest `json:"validation,omitempty"`
	Command      *AdminCommand      `json:"command,omitempty"`
	Challenge    *ActiveChallenge   `json:"challenge,omitempty"`
	// LastChallengeID survives a cleared challenge so ids never restart;
	// a device's resolved high-water mark stays meaningful.
	LastChallengeID int64     `json:"last_challenge_id,omitempty"`
	BonusMinutes    int       `json:"bonus_minutes"`
	LastStepAt      time.Time `json:"last_step_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FindParticipant returns the participant with the given ID, or nil.
func (r *SessionRecord) FindParticipant(id string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].ID == id {
			return &r.Participants[i]
		}
	}
	return nil
}

// ReadyCount counts validation votes cast by currently-known participants.
// Votes from IDs no longer (or not yet) in the participant list do not count
// toward quorum.
func (r *SessionRecord) ReadyCount() int {
	if r.Validation == nil {
		return 0
	}
	count := 0
	for _, id := range r.Validation.ReadyIDs {
		if r.FindParticipant(id) != nil {
			count++
		}
	}
	return count
}

// QuorumReached reports whether every currently-known participant has
// acknowledged readiness for the pending validation request. A session with
// zero participants never reaches quorum.
func (r *SessionRecord) QuorumReached() bool {
	if r.Validation == nil || len(r.Participants) == 0 {
		return false
	}
	return r.ReadyCount() >= len(r.Participants)
}

// StepStartedAt returns the instant the current step began: the last commit
// time when one exists, otherwise the session start.
func (r *SessionRecord) StepStartedAt() time.Time {
	if !r.LastStepAt.IsZero() {
		return r.LastStepAt
	}
	return r.StartedAt
}

// Clone returns a deep copy so a mutation derived from a cached snapshot
// never aliases the snapshot itself.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = append([]Participant(nil), r.Participants...)
	out.History = append([]HistoryEntry(nil), r.History...)
	if r.Proposal != nil {
		p := *r.Proposal
		out.Proposal = &p
	}
	if r.Validation != nil {
		v := *r.Validation
		v.ReadyIDs = append([]string(nil), r.Validation.ReadyIDs...)
		out.Validation = &v
	}
	if r.Command != nil {
		c := *r.Command
		out.Command = &c
	}
	if r.Challenge != nil {
		c := *r.Challenge
		out.Challenge = &c
	}
	return &out
}
