package channel

import (
	"context"
	"testing"

	"github.com/lockstep-games/lockstep/internal/localstate"
	"github.com/lockstep-games/lockstep/internal/models"
)

type challengeRecorder struct {
	opened    []models.ActiveChallenge
	dismissed int
}

func (c *challengeRecorder) OpenChallenge(ch models.ActiveChallenge) {
	c.opened = append(c.opened, ch)
}

func (c *challengeRecorder) DismissChallenge() {
	c.dismissed++
}

func challengeRecord(id int64, kind models.ChallengeKind) *models.SessionRecord {
	return &models.SessionRecord{
		Code:      "ABCDEF",
		Challenge: &models.ActiveChallenge{ID: id, Kind: kind, Payload: "sos"},
	}
}

func TestChallengeOpensOnce(t *testing.T) {
	ctx := context.Background()
	handler := &challengeRecorder{}
	ch := NewChallengeChannel(newMemMarks(), handler)

	rec := challengeRecord(3, models.ChallengeMorse)
	ch.Observe(ctx, rec)
	ch.Observe(ctx, rec)
	ch.Observe(ctx, rec)

	if len(handler.opened) != 1 {
		t.Fatalf("opened %d times, want 1", len(handler.opened))
	}
	if handler.opened[0].ID != 3 || handler.opened[0].Kind != models.ChallengeMorse {
		t.Errorf("opened = %+v", handler.opened[0])
	}
	if ch.Open() != 3 {
		t.Errorf("Open() = %d, want 3", ch.Open())
	}
}

func TestResolvedChallengeNeverReopens(t *testing.T) {
	ctx := context.Background()
	marks := newMemMarks()
	handler := &challengeRecorder{}
	ch := NewChallengeChannel(marks, handler)

	rec := challengeRecord(3, models.ChallengeCipher)
	ch.Observe(ctx, rec)
	ch.Resolve(ctx)

	if ch.Open() != 0 {
		t.Errorf("Open() = %d after resolve, want 0", ch.Open())
	}
	if high, _ := marks.Watermark(ctx, localstate.MarkChallenge); high != 3 {
		t.Errorf("watermark = %d, want 3", high)
	}

	// The owner has not cleared the record yet; later polls still carry the
	// challenge but this device already beat it.
	ch.Observe(ctx, rec)
	ch.Observe(ctx, rec)
	if len(handler.opened) != 1 {
		t.Errorf("opened %d times, want 1", len(handler.opened))
	}

	// When the owner finally clears it, there is nothing local to dismiss.
	ch.Observe(ctx, &models.SessionRecord{Code: "ABCDEF"})
	if handler.dismissed != 0 {
		t.Errorf("dismissed = %d, want 0", handler.dismissed)
	}
}

func TestRemoteClearDismissesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	handler := &challengeRecorder{}
	ch := NewChallengeChannel(newMemMarks(), handler)

	ch.Observe(ctx, challengeRecord(4, models.ChallengeSignal))
	if len(handler.opened) != 1 {
		t.Fatalf("opened %d times, want 1", len(handler.opened))
	}

	cleared := &models.SessionRecord{Code: "ABCDEF"}
	ch.Observe(ctx, cleared)
	ch.Observe(ctx, cleared)
	ch.Observe(ctx, cleared)

	if handler.dismissed != 1 {
		t.Errorf("dismissed = %d, want 1", handler.dismissed)
	}
}

func TestNewChallengeReplacesResolved(t *testing.T) {
	ctx := context.Background()
	handler := &challengeRecorder{}
	ch := NewChallengeChannel(newMemMarks(), handler)

	ch.Observe(ctx, challengeRecord(1, models.ChallengeMorse))
	ch.Resolve(ctx)
	ch.Observe(ctx, challengeRecord(2, models.ChallengeCipher))

	if len(handler.opened) != 2 {
		t.Fatalf("opened %d times, want 2", len(handler.opened))
	}
	if handler.opened[1].ID != 2 {
		t.Errorf("second open id = %d, want 2", handler.opened[1].ID)
	}
}

func TestStaleLowerIDDoesNotReplaceOpenChallenge(t *testing.T) {
	ctx := context.Background()
	handler := &challengeRecorder{}
	ch := NewChallengeChannel(newMemMarks(), handler)

	ch.Observe(ctx, challengeRecord(5, models.ChallengeSignal))
	if ch.Open() != 5 {
		t.Fatalf("Open() = %d, want 5", ch.Open())
	}

	// A record carrying an older, unresolved id (a stale overwrite from a
	// racing writer) must not open a second mini-game over the current one.
	ch.Observe(ctx, challengeRecord(2, models.ChallengeMorse))

	if len(handler.opened) != 1 {
		t.Fatalf("opened %d times, want 1", len(handler.opened))
	}
	if ch.Open() != 5 {
		t.Errorf("Open() = %d, want 5", ch.Open())
	}
}

func TestResolveWithoutOpenChallenge(t *testing.T) {
	ctx := context.Background()
	marks := newMemMarks()
	ch := NewChallengeChannel(marks, &challengeRecorder{})

	ch.Resolve(ctx)
	if high, _ := marks.Watermark(ctx, localstate.MarkChallenge); high != 0 {
		t.Errorf("watermark = %d, want 0", high)
	}
}
