package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 测试用校验函数：明文与摘要相等即通过
func plainVerify(digest, passphrase string) bool {
	return digest == passphrase
}

func TestEvaluateReveal(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	digest := "sesame"
	good := "sesame"
	bad := "wrong"

	unlocked := func(revealAt time.Time) *Capsule {
		return &Capsule{ID: "c1", RevealAt: revealAt}
	}
	locked := func(revealAt time.Time) *Capsule {
		return &Capsule{ID: "c1", RevealAt: revealAt, IsLocked: true, PassphraseDigest: &digest}
	}

	tests := []struct {
		name       string
		capsule    *Capsule
		passphrase *string
		expected   RevealOutcome
	}{
		{"Nil capsule is not found", nil, nil, RevealNotFound},
		{"Future capsule is not revealed", unlocked(now.Add(time.Hour)), nil, RevealNotRevealed},
		{"Past capsule is available", unlocked(now.Add(-time.Hour)), nil, RevealAvailable},
		{"Reveal instant is inclusive", unlocked(now), nil, RevealAvailable},
		{"Locked without passphrase", locked(now.Add(-time.Hour)), nil, RevealLocked},
		{"Lock dominates time gate", locked(now.Add(time.Hour)), nil, RevealLocked},
		{"Correct passphrase unlocks", locked(now.Add(-time.Hour)), &good, RevealUnlocked},
		{"Correct passphrase unlocks before reveal time", locked(now.Add(time.Hour)), &good, RevealUnlocked},
		{"Wrong passphrase rejected", locked(now.Add(-time.Hour)), &bad, RevealInvalidPassphrase},
		{"Passphrase on unlocked capsule is ignored", unlocked(now.Add(-time.Hour)), &good, RevealAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateReveal(tt.capsule, now, tt.passphrase, plainVerify)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluateRevealIsStateless(t *testing.T) {
	now := time.Now().UTC()
	digest := "sesame"
	good := "sesame"
	c := &Capsule{ID: "c1", RevealAt: now.Add(time.Hour), IsLocked: true, PassphraseDigest: &digest}

	// 解锁仅对单次请求生效，胶囊本身不发生任何变化
	assert.Equal(t, RevealUnlocked, EvaluateReveal(c, now, &good, plainVerify))
	assert.True(t, c.IsLocked)
	assert.NotNil(t, c.PassphraseDigest)
	assert.Equal(t, RevealLocked, EvaluateReveal(c, now, nil, plainVerify))
}

func TestEvaluateRevealCorruptLockState(t *testing.T) {
	now := time.Now().UTC()
	pass := "anything"

	// 锁定标记与摘要不一致时按锁定处理，绝不泄露内容
	c := &Capsule{ID: "c1", RevealAt: now.Add(-time.Hour), IsLocked: true}
	assert.Equal(t, RevealLocked, EvaluateReveal(c, now, &pass, plainVerify))
	assert.Equal(t, RevealLocked, EvaluateReveal(c, now, &pass, nil))
}

func TestRevealOutcomeString(t *testing.T) {
	tests := []struct {
		outcome  RevealOutcome
		expected string
	}{
		{RevealNotFound, "not_found"},
		{RevealLocked, "locked"},
		{RevealInvalidPassphrase, "invalid_passphrase"},
		{RevealUnlocked, "unlocked"},
		{RevealNotRevealed, "not_revealed"},
		{RevealAvailable, "available"},
		{RevealOutcome(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.outcome.String())
	}
}

func TestRevealOutcomeVisible(t *testing.T) {
	assert.True(t, RevealAvailable.Visible())
	assert.True(t, RevealUnlocked.Visible())
	assert.False(t, RevealNotFound.Visible())
	assert.False(t, RevealLocked.Visible())
	assert.False(t, RevealNotRevealed.Visible())
	assert.False(t, RevealInvalidPassphrase.Visible())
}
