// Package stationstatus renders a point-in-time diagnostics snapshot
// of the running station core as YAML, the ambient-stack counterpart
// to the protocol components (§5 "statistics").
package stationstatus

import (
	"time"

	"gopkg.in/yaml.v3"
)

// SessionStatus summarizes one AX.25 session.
type SessionStatus struct {
	Callsign        string  `yaml:"callsign"`
	State           string  `yaml:"state"`
	BytesSent       int     `yaml:"bytesSent"`
	BytesReceived   int     `yaml:"bytesReceived"`
	PacketsSent     int     `yaml:"packetsSent"`
	PacketsReceived int     `yaml:"packetsReceived"`
	DurationSeconds float64 `yaml:"durationSeconds"`
}

// Snapshot is the full diagnostics dump.
type Snapshot struct {
	GeneratedAt   time.Time       `yaml:"generatedAt"`
	LocalCallsign string          `yaml:"localCallsign"`
	UptimeSeconds float64         `yaml:"uptimeSeconds"`
	Sessions      []SessionStatus `yaml:"sessions"`
	PendingAprsAcks int           `yaml:"pendingAprsAcks"`
	RegistryOwners map[string]string `yaml:"registryOwners"`
}

// Render marshals snap as YAML using the two-space-indent style the
// rest of this codebase's config files use.
func Render(snap Snapshot) ([]byte, error) {
	var buf yamlBuffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

type yamlBuffer struct{ data []byte }

func (b *yamlBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
