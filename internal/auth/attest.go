// ABOUTME: Client build attestation: shared secret to (version, component hash) binding
// ABOUTME: Prevents a client holding one build's secret from claiming another build's identity

package auth

import (
	"github.com/frpt/frpt-console/internal/config"
)

type attestationRecord struct {
	version       string
	componentHash string
}

// AttestationTable is the static trust table of client builds, keyed by the
// shared secret each build carries.
type AttestationTable struct {
	records map[string]attestationRecord
}

// NewAttestationTable builds the table from the configured trusted clients.
func NewAttestationTable(clients []config.TrustedClient) *AttestationTable {
	records := make(map[string]attestationRecord, len(clients))
	for _, c := range clients {
		records[c.Secret] = attestationRecord{
			version:       c.Version,
			componentHash: c.ComponentHash,
		}
	}
	return &AttestationTable{records: records}
}

// Verify checks a claimed (version, component hash) pair against the record
// bound to the secret. The checks are ordered: unknown secret, then version,
// then component hash, each a hard fail.
func (t *AttestationTable) Verify(secret, claimedVersion, claimedHash string) error {
	rec, ok := t.records[secret]
	if !ok {
		return ErrClientUntrusted
	}
	if claimedVersion != rec.version {
		return ErrVersionMismatch
	}
	if claimedHash != rec.componentHash {
		return ErrComponentMismatch
	}
	return nil
}
