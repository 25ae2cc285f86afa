package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstInWins(t *testing.T) {
	r := New()
	assert.True(t, r.Acquire("KK7VZT-7", KindBBS))
	assert.False(t, r.Acquire("KK7VZT-7", KindEcho))
	owner, ok := r.Owner("KK7VZT-7")
	assert.True(t, ok)
	assert.Equal(t, KindBBS, owner)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	r := New()
	require := assert.New(t)
	require.True(r.Acquire("W1AW", KindWinlink))
	r.Release("W1AW")
	require.True(r.Acquire("W1AW", KindEcho))
}

func TestCanCreateSessionMatchesExisting(t *testing.T) {
	r := New()
	r.Acquire("N0CALL", KindBBS)
	assert.True(t, r.CanCreateSession("N0CALL", KindBBS))
	assert.False(t, r.CanCreateSession("N0CALL", KindEcho))
	assert.True(t, r.CanCreateSession("OTHER", KindWinlink))
}
