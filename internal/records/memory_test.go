package records

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/scrub-gateway/internal/domain"
)

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	m := NewMemoryStore("b", "", "a")
	ctx := context.Background()

	rec := sampleRecord()
	id, err := m.Create(ctx, rec)
	require.NoError(t, err)

	rec.PhoneColumns[0] = "mutated"
	got, found, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "c1", got.PhoneColumns[0])

	got.FileName = "mutated"
	again, _, _ := m.Get(ctx, id)
	assert.Equal(t, "leads.csv", again.FileName)

	ids, err := m.AllowedAudiences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestMemoryStoreCRUD(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	a, _ := m.Create(ctx, sampleRecord())
	b, _ := m.Create(ctx, sampleRecord())
	assert.NotEqual(t, a, b)

	recs, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, a, recs[0].ID)

	found, err := m.SetNotification(ctx, a, domain.Notification{MessageID: "m"})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = m.Delete(ctx, a)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = m.Delete(ctx, a)
	require.NoError(t, err)
	assert.False(t, found)

	boom := errors.New("down")
	m.FailWith(boom)
	assert.ErrorIs(t, m.Ping(ctx), boom)
	_, err = m.List(ctx)
	assert.ErrorIs(t, err, boom)
}
