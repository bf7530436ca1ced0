package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"timecapsule/backend/internal/domain"
)

func BenchmarkMemoryStore_CreateCapsule(b *testing.B) {
	store := NewStore()
	ctx := context.Background()
	owner := "bench-owner"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		capsule := &domain.Capsule{
			ID:        fmt.Sprintf("capsule-%d", i),
			Title:     fmt.Sprintf("Capsule %d", i),
			Message:   "A sealed message for the future",
			Author:    "Bench",
			OwnerID:   &owner,
			CreatedAt: time.Now(),
			RevealAt:  time.Now().Add(24 * time.Hour),
		}
		store.CreateCapsule(ctx, capsule)
	}
}

func BenchmarkMemoryStore_GetCapsule(b *testing.B) {
	store := NewStore()
	ctx := context.Background()
	owner := "bench-owner"

	// Pre-populate with test data
	for i := 0; i < 1000; i++ {
		capsule := &domain.Capsule{
			ID:        fmt.Sprintf("capsule-%d", i),
			Title:     fmt.Sprintf("Capsule %d", i),
			Message:   "A sealed message for the future",
			Author:    "Bench",
			OwnerID:   &owner,
			CreatedAt: time.Now(),
			RevealAt:  time.Now().Add(24 * time.Hour),
			Attachments: []*domain.Attachment{
				{
					ID:        fmt.Sprintf("att-%d", i),
					CapsuleID: fmt.Sprintf("capsule-%d", i),
					Kind:      domain.AttachmentImage,
					ObjectKey: fmt.Sprintf("image/bench-owner/%d-photo.jpg", i),
					MimeType:  domain.MimeJPEG,
				},
			},
		}
		store.CreateCapsule(ctx, capsule)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.GetCapsule(ctx, &owner, fmt.Sprintf("capsule-%d", i%1000))
	}
}

func BenchmarkMemoryStore_ListCapsules(b *testing.B) {
	store := NewStore()
	ctx := context.Background()
	owner := "bench-owner"

	for i := 0; i < 200; i++ {
		capsule := &domain.Capsule{
			ID:        fmt.Sprintf("capsule-%d", i),
			Title:     fmt.Sprintf("Capsule %d", i),
			Message:   "A sealed message for the future",
			Author:    "Bench",
			OwnerID:   &owner,
			CreatedAt: time.Now(),
			RevealAt:  time.Now().Add(24 * time.Hour),
		}
		store.CreateCapsule(ctx, capsule)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.ListCapsules(ctx, owner)
	}
}

func BenchmarkMemoryStore_DueCapsules(b *testing.B) {
	store := NewStore()
	ctx := context.Background()
	owner := "bench-owner"
	now := time.Now()

	for i := 0; i < 1000; i++ {
		capsule := &domain.Capsule{
			ID:        fmt.Sprintf("capsule-%d", i),
			Title:     fmt.Sprintf("Capsule %d", i),
			Message:   "A sealed message for the future",
			Author:    "Bench",
			OwnerID:   &owner,
			CreatedAt: now,
			// 一半已到期，一半未到期
			RevealAt: now.Add(time.Duration(i-500) * time.Minute),
		}
		store.CreateCapsule(ctx, capsule)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.DueCapsules(ctx, now, 50)
	}
}
