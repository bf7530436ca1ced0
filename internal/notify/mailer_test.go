package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"timecapsule/backend/internal/domain"
)

func TestComposeRevealMail(t *testing.T) {
	owner := "owner-1"
	capsule := &domain.Capsule{
		ID:       "cap-42",
		Title:    "Graduation",
		Message:  "the sealed secret",
		Author:   "past me",
		OwnerID:  &owner,
		RevealAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	raw := string(composeRevealMail("capsule@example.com", "inbox@example.com", capsule, now))
	headers, body, found := strings.Cut(raw, "\r\n\r\n")
	assert.True(t, found, "mail must separate headers from body with a blank line")

	t.Run("头部字段完整", func(t *testing.T) {
		assert.Contains(t, headers, "From: capsule@example.com")
		assert.Contains(t, headers, "To: inbox@example.com")
		assert.Contains(t, headers, "Subject: Time capsule revealed: Graduation")
		assert.Contains(t, headers, "Date: Sat, 01 Jun 2024 12:30:00 +0000")
		assert.Contains(t, headers, "Content-Type: text/plain; charset=utf-8")
	})

	t.Run("正文包含标识但不含封存留言", func(t *testing.T) {
		assert.Contains(t, body, "cap-42")
		assert.Contains(t, body, "2024-06-01T12:00:00Z")
		assert.Contains(t, body, "past me")
		assert.NotContains(t, raw, "the sealed secret")
	})

	t.Run("非ASCII标题按编码字编码", func(t *testing.T) {
		capsule := &domain.Capsule{ID: "cap-43", Title: "给未来的信", Author: "me", RevealAt: now}
		raw := string(composeRevealMail("a@b.c", "d@e.f", capsule, now))

		assert.Contains(t, raw, "=?utf-8?q?")
		assert.NotContains(t, strings.SplitN(raw, "\r\n\r\n", 2)[0], "给未来的信")
	})
}
