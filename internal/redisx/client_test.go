package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	defer rdb.Close()
	ctx := context.Background()

	claimed, err := Claim(ctx, rdb, "dedup:x:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.True(t, mr.Exists("dedup:x:1"))

	claimed, err = Claim(ctx, rdb, "dedup:x:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "second worker must not claim a held key")

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("dedup:x:1"))

	claimed, err = Claim(ctx, rdb, "dedup:x:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claim can be taken again")
}
