// Package vote implements the proposal/validation protocol that gates step
// transitions: any participant may propose, the owner turns a proposal (or a
// direct decision) into a binding validation request, every known participant
// acknowledges readiness, and the moderating device commits the transition
// once quorum is reached.
package vote

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/scenario"
)

// DefaultSettleDelay is the cosmetic pause between quorum and commit so the
// vote UI visibly reaches 100% before the step advances. Not a correctness
// requirement.
const DefaultSettleDelay = time.Second

// OperatorCredit is the history credit for owner-initiated transitions that
// had no backing proposal.
const OperatorCredit = "operator"

// Session is what the protocol needs from the polling synchronizer.
type Session interface {
	Snapshot() (*models.SessionRecord, string)
	Mutate(record *models.SessionRecord)
}

// Protocol drives proposals, readiness votes, and commits for one device.
type Protocol struct {
	sess   Session
	def    *scenario.Definition
	clock  clockwork.Clock
	settle time.Duration

	participantID string
	displayName   string
	moderator     bool

	mu        sync.Mutex
	armedKey  string
	committed map[string]bool
}

// New creates a protocol instance with the real clock and default settle
// delay. Only the moderating device (the owner, by convention) arms the
// commit timer; everyone else just proposes and votes.
func New(sess Session, def *scenario.Definition, participantID, displayName string, moderator bool) *Protocol {
	return NewWithClock(sess, def, participantID, displayName, moderator, clockwork.NewRealClock(), DefaultSettleDelay)
}

// NewWithClock creates a protocol instance with injectable timing.
func NewWithClock(sess Session, def *scenario.Definition, participantID, displayName string, moderator bool, clock clockwork.Clock, settle time.Duration) *Protocol {
	return &Protocol{
		sess:          sess,
		def:           def,
		clock:         clock,
		settle:        settle,
		participantID: participantID,
		displayName:   displayName,
		moderator:     moderator,
		committed:     make(map[string]bool),
	}
}

// Propose submits a non-binding "I did this" suggestion. A new proposal
// simply overwrites any previous one.
func (p *Protocol) Propose(action string) {
	rec, _ := p.sess.Snapshot()
	if rec == nil {
		return
	}
	next := rec.Clone()
	next.Proposal = &models.PendingProposal{
		ParticipantID:   p.participantID,
		ParticipantName: p.displayName,
		Action:          action,
		CreatedAt:       p.clock.Now(),
	}
	log.Info().Str("action", action).Msg("submitting proposal")
	p.sess.Mutate(next)
}

// RejectProposal clears the pending proposal with no other side effect.
func (p *Protocol) RejectProposal() {
	rec, _ := p.sess.Snapshot()
	if rec == nil || rec.Proposal == nil {
		return
	}
	next := rec.Clone()
	next.Proposal = nil
	log.Info().Msg("proposal rejected")
	p.sess.Mutate(next)
}

// InitiateValidation creates the binding request to advance to the next
// step, clearing any pending proposal (whose credit it inherits) and seeding
// the ready set with the initiator's own id.
func (p *Protocol) InitiateValidation() {
	rec, _ := p.sess.Snapshot()
	if rec == nil {
		return
	}
	next := rec.Clone()

	target := scenario.ClampStep(scenario.ClampStep(rec.Step, p.def.StepCount())+1, p.def.StepCount())
	req := &models.ValidationRequest{
		NextStep:    target,
		InitiatorID: p.participantID,
		ReadyIDs:    []string{p.participantID},
		CreatedAt:   p.clock.Now(),
	}
	if next.Proposal != nil {
		req.ProposedBy = next.Proposal.ParticipantName
	}
	next.Proposal = nil
	next.Validation = req

	log.Info().Int("next_step", target).Msg("validation request created")
	p.sess.Mutate(next)
}

// VoteReady acknowledges readiness for the active validation request.
// Voting again is a no-op.
func (p *Protocol) VoteReady() {
	rec, _ := p.sess.Snapshot()
	if rec == nil || rec.Validation == nil {
		return
	}
	if rec.Validation.HasVoted(p.participantID) {
		return
	}
	next := rec.Clone()
	next.Validation.ReadyIDs = append(next.Validation.ReadyIDs, p.participantID)
	log.Info().Int("next_step", next.Validation.NextStep).Msg("readiness vote cast")
	p.sess.Mutate(next)
}

// Observe evaluates a polled snapshot and, on the moderating device, arms
// the settle timer once every known participant has acknowledged. The commit
// fires at most once per request even if duplicate votes keep arriving.
func (p *Protocol) Observe(rec *models.SessionRecord) {
	if !p.moderator || rec == nil || rec.Validation == nil {
		return
	}
	if !rec.QuorumReached() {
		return
	}

	key := requestKey(rec.Validation)
	p.mu.Lock()
	if p.committed[key] || p.armedKey == key {
		p.mu.Unlock()
		return
	}
	p.armedKey = key
	p.mu.Unlock()

	log.Info().
		Int("next_step", rec.Validation.NextStep).
		Int("participants", len(rec.Participants)).
		Msg("quorum reached, settling before commit")
	p.clock.AfterFunc(p.settle, func() {
		p.tryCommit(key)
	})
}

// tryCommit re-reads the snapshot after the settle delay and commits only if
// the same request is still pending with quorum intact.
func (p *Protocol) tryCommit(key string) {
	p.mu.Lock()
	if p.armedKey == key {
		p.armedKey = ""
	}
	alreadyCommitted := p.committed[key]
	p.mu.Unlock()
	if alreadyCommitted {
		return
	}

	rec, _ := p.sess.Snapshot()
	if rec == nil || rec.Validation == nil || requestKey(rec.Validation) != key {
		return
	}
	if !rec.QuorumReached() {
		// A participant joined during the settle window; wait for their vote.
		return
	}

	p.mu.Lock()
	if p.committed[key] {
		p.mu.Unlock()
		return
	}
	p.committed[key] = true
	p.mu.Unlock()

	p.commit(rec)
}

func (p *Protocol) commit(rec *models.SessionRecord) {
	now := p.clock.Now()
	completed := scenario.ClampStep(rec.Step, p.def.StepCount())
	credit := rec.Validation.ProposedBy
	if credit == "" {
		credit = OperatorCredit
	}

	next := rec.Clone()
	next.Step = rec.Validation.NextStep
	next.Status = fmt.Sprintf("%s solved by %s", p.def.StepAt(completed).Title, credit)
	next.History = append(next.History, models.HistoryEntry{
		Step:            completed,
		SolvedBy:        credit,
		SolvedAt:        now,
		DurationSeconds: int(now.Sub(rec.StepStartedAt()).Seconds()),
	})
	next.LastStepAt = now
	next.Proposal = nil
	next.Validation = nil

	log.Info().
		Int("step", next.Step).
		Str("credit", credit).
		Msg("step transition committed")
	p.sess.Mutate(next)
}

func requestKey(v *models.ValidationRequest) string {
	return fmt.Sprintf("%d@%d", v.NextStep, v.CreatedAt.UnixNano())
}
