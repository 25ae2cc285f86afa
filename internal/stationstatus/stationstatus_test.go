package stationstatus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRenderProducesValidYAML(t *testing.T) {
	snap := Snapshot{
		GeneratedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LocalCallsign: "KK7VZT-1",
		Sessions: []SessionStatus{
			{Callsign: "N0CALL", State: "CONNECTED", PacketsSent: 3},
		},
		RegistryOwners: map[string]string{"N0CALL": "BBS"},
	}

	out, err := Render(snap)
	require.NoError(t, err)

	var roundTrip Snapshot
	require.NoError(t, yaml.Unmarshal(out, &roundTrip))
	assert.Equal(t, "KK7VZT-1", roundTrip.LocalCallsign)
	assert.Equal(t, "N0CALL", roundTrip.Sessions[0].Callsign)
	assert.Equal(t, "BBS", roundTrip.RegistryOwners["N0CALL"])
}
