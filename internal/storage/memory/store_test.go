package memory

import (
	"context"
	"testing"
	"time"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testCapsule(id string, ownerID *string) *domain.Capsule {
	return &domain.Capsule{
		ID:        id,
		Title:     "Graduation letter",
		Message:   "Open this when you walk off the stage.",
		Author:    "Ming",
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
		RevealAt:  time.Now().Add(24 * time.Hour).UTC(),
	}
}

func testAttachment(id, capsuleID string) *domain.Attachment {
	return &domain.Attachment{
		ID:        id,
		CapsuleID: capsuleID,
		Kind:      domain.AttachmentImage,
		ObjectKey: "image/owner-1/1-abcd1234-photo.jpg",
		MimeType:  domain.MimeJPEG,
		SizeBytes: 2048,
		Width:     800,
		Height:    600,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_CapsuleLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := strPtr("owner-1")

	// Test CreateCapsule with attachments
	capsule := testCapsule("capsule-1", owner)
	capsule.Attachments = []*domain.Attachment{
		testAttachment("att-1", "capsule-1"),
		testAttachment("att-2", "capsule-1"),
	}
	require.NoError(t, store.CreateCapsule(ctx, capsule))

	// Test GetCapsule loads attachments and the sealed message
	got, err := store.GetCapsule(ctx, owner, "capsule-1")
	require.NoError(t, err)
	assert.Equal(t, capsule.Title, got.Title)
	assert.Equal(t, capsule.Message, got.Message)
	assert.Len(t, got.Attachments, 2)

	// Test ListCapsules excludes the message at the read layer
	second := testCapsule("capsule-2", owner)
	second.CreatedAt = capsule.CreatedAt.Add(time.Minute)
	require.NoError(t, store.CreateCapsule(ctx, second))

	list, err := store.ListCapsules(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first
	assert.Equal(t, "capsule-2", list[0].ID)
	assert.Equal(t, "capsule-1", list[1].ID)
	for _, item := range list {
		assert.Empty(t, item.Message)
	}

	// Test DeleteCapsule returns the deleted capsule with attachments
	deleted, err := store.DeleteCapsule(ctx, owner, "capsule-1")
	require.NoError(t, err)
	assert.Len(t, deleted.Attachments, 2)

	_, err = store.GetCapsule(ctx, owner, "capsule-1")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)

	list, err = store.ListCapsules(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_CreateDuplicateID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := strPtr("owner-1")

	require.NoError(t, store.CreateCapsule(ctx, testCapsule("capsule-1", owner)))
	err := store.CreateCapsule(ctx, testCapsule("capsule-1", owner))
	assert.ErrorIs(t, err, storage.ErrCapsuleExists)
}

func TestMemoryStore_CreateRejectsInconsistentCapsule(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	// Locked flag without a digest must not reach the map
	capsule := testCapsule("capsule-1", strPtr("owner-1"))
	capsule.IsLocked = true

	err := store.CreateCapsule(ctx, capsule)
	assert.ErrorIs(t, err, domain.ErrLockStateMismatch)

	_, err = store.GetCapsule(ctx, strPtr("owner-1"), "capsule-1")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)
}

func TestMemoryStore_OwnerScoping(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := strPtr("owner-1")
	stranger := strPtr("owner-2")

	require.NoError(t, store.CreateCapsule(ctx, testCapsule("owned", owner)))
	require.NoError(t, store.CreateCapsule(ctx, testCapsule("legacy", nil)))

	// A capsule that exists but belongs to someone else reads as not-found
	_, err := store.GetCapsule(ctx, stranger, "owned")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)

	// An anonymous caller cannot read owned capsules either
	_, err = store.GetCapsule(ctx, nil, "owned")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)

	// Ownerless capsules are readable by anyone
	got, err := store.GetCapsule(ctx, stranger, "legacy")
	require.NoError(t, err)
	assert.Nil(t, got.OwnerID)
	_, err = store.GetCapsule(ctx, nil, "legacy")
	require.NoError(t, err)

	// ...but never listed
	list, err := store.ListCapsules(ctx, "owner-2")
	require.NoError(t, err)
	assert.Empty(t, list)

	// ...and never deletable, by anyone
	_, err = store.DeleteCapsule(ctx, owner, "legacy")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)
	_, err = store.DeleteCapsule(ctx, nil, "legacy")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)

	// Foreign delete reads as not-found and leaves the capsule in place
	_, err = store.DeleteCapsule(ctx, stranger, "owned")
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)
	_, err = store.GetCapsule(ctx, owner, "owned")
	assert.NoError(t, err)
}

func TestMemoryStore_ReturnsIsolatedClones(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := strPtr("owner-1")

	capsule := testCapsule("capsule-1", owner)
	capsule.PassphraseDigest = strPtr("$2a$10$digest")
	capsule.IsLocked = true
	capsule.Attachments = []*domain.Attachment{testAttachment("att-1", "capsule-1")}
	require.NoError(t, store.CreateCapsule(ctx, capsule))

	// Mutating the input after create must not affect the stored copy
	capsule.Title = "tampered"
	capsule.Attachments[0].ObjectKey = "tampered"

	got, err := store.GetCapsule(ctx, owner, "capsule-1")
	require.NoError(t, err)
	assert.Equal(t, "Graduation letter", got.Title)
	assert.Equal(t, "image/owner-1/1-abcd1234-photo.jpg", got.Attachments[0].ObjectKey)

	// Mutating a read result must not leak back into the store
	got.Title = "scribbled"
	*got.PassphraseDigest = "overwritten"
	got.Attachments[0].SizeBytes = 0

	again, err := store.GetCapsule(ctx, owner, "capsule-1")
	require.NoError(t, err)
	assert.Equal(t, "Graduation letter", again.Title)
	assert.Equal(t, "$2a$10$digest", *again.PassphraseDigest)
	assert.Equal(t, int64(2048), again.Attachments[0].SizeBytes)
}

func TestMemoryStore_RevealOutbox(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := strPtr("owner-1")
	now := time.Now().UTC()

	early := testCapsule("early", owner)
	early.RevealAt = now.Add(-2 * time.Hour)
	late := testCapsule("late", owner)
	late.RevealAt = now.Add(-time.Hour)
	future := testCapsule("future", owner)
	future.RevealAt = now.Add(time.Hour)

	require.NoError(t, store.CreateCapsule(ctx, early))
	require.NoError(t, store.CreateCapsule(ctx, late))
	require.NoError(t, store.CreateCapsule(ctx, future))

	// Test DueCapsules returns only due ones, oldest reveal first, no message
	due, err := store.DueCapsules(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].ID)
	assert.Equal(t, "late", due[1].ID)
	for _, capsule := range due {
		assert.Empty(t, capsule.Message)
	}

	// Test limit
	due, err = store.DueCapsules(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "early", due[0].ID)

	// Test the reveal instant itself counts as due
	exact := testCapsule("exact", owner)
	exact.RevealAt = now
	require.NoError(t, store.CreateCapsule(ctx, exact))
	due, err = store.DueCapsules(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	// Test MarkNotified removes a capsule from the due set
	require.NoError(t, store.MarkNotified(ctx, "early", now))
	require.NoError(t, store.MarkNotified(ctx, "late", now))
	require.NoError(t, store.MarkNotified(ctx, "exact", now))
	due, err = store.DueCapsules(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Test MarkNotified on a missing capsule
	err = store.MarkNotified(ctx, "missing", now)
	assert.ErrorIs(t, err, storage.ErrCapsuleNotFound)
}

func TestMemoryStore_CloseAndHealth(t *testing.T) {
	store := NewStore()
	assert.NoError(t, store.Health())
	assert.NoError(t, store.Close())
}
