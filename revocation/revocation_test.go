package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/clinicguard/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestList(t *testing.T) (*List, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s := store.NewSharded[Record](store.WithClock(c.Now))
	return New(s, WithClock(c.Now)), c
}

func TestRevokeRequiresTarget(t *testing.T) {
	l, _ := newTestList(t)
	_, err := l.Revoke(context.Background(), Request{Reason: ReasonLogout})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRevokeByTokenIDIsNarrow(t *testing.T) {
	ctx := context.Background()
	l, c := newTestList(t)

	_, err := l.Revoke(ctx, Request{Reason: ReasonLogout, TokenID: "jti-1", SubjectID: "u1"})
	require.NoError(t, err)

	_, revoked, err := l.Check(ctx, "jti-1", "u1", c.now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, revoked)

	_, revoked, err = l.Check(ctx, "jti-2", "u1", c.now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, revoked, "other tokens of the subject stay valid")
}

func TestRevokeBySubjectCoversEarlierTokens(t *testing.T) {
	ctx := context.Background()
	l, c := newTestList(t)

	issuedEarlier := []time.Time{c.now.Add(-23 * time.Hour), c.now.Add(-time.Hour), c.now}
	c.now = c.now.Add(time.Second)

	entry, err := l.Revoke(ctx, Request{Reason: ReasonCompromise, SubjectID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, ReasonCompromise, entry.Reason)
	assert.Equal(t, c.now.Add(DefaultTTL), entry.ExpiresAt)

	for _, iat := range issuedEarlier {
		_, revoked, err := l.Check(ctx, "any", "u1", iat)
		require.NoError(t, err)
		assert.True(t, revoked, "token issued at %v must be revoked", iat)
	}

	_, revoked, err := l.Check(ctx, "", "u1", time.Time{})
	require.NoError(t, err)
	assert.True(t, revoked, "tokens without iat are always covered")

	c.now = c.now.Add(time.Minute)
	_, revoked, err = l.Check(ctx, "fresh", "u1", c.now)
	require.NoError(t, err)
	assert.False(t, revoked, "tokens issued after the revocation stay valid")
}

func TestEntriesExpireAndSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, c := newTestList(t)

	_, err := l.Revoke(ctx, Request{SubjectID: "u1", TTL: time.Hour})
	require.NoError(t, err)
	_, err = l.Revoke(ctx, Request{SubjectID: "u1", TTL: 3 * time.Hour})
	require.NoError(t, err)
	_, err = l.Revoke(ctx, Request{TokenID: "jti-9", TTL: time.Hour})
	require.NoError(t, err)

	removed, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	c.now = c.now.Add(2 * time.Hour)
	_, revoked, err := l.Check(ctx, "jti-9", "", time.Time{})
	require.NoError(t, err)
	assert.False(t, revoked, "expired entries no longer match")

	removed, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "second sweep must be a no-op")

	_, revoked, err = l.Check(ctx, "", "u1", c.now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.True(t, revoked, "the longer subject entry survives the sweep")
}
