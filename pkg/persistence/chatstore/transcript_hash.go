package chatstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// TranscriptHashAlgorithmV1 identifies the canonical hash material: JSON over the ordered
// (message id, role, content) triples. Timestamps are excluded, since REST and stream
// timestamps for the same message differ.
const TranscriptHashAlgorithmV1 = "sha256-canonical-json-v1"

type canonicalMessageMaterial struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func CanonicalTranscriptJSON(msgs []MessageRecord) ([]byte, error) {
	material := make([]canonicalMessageMaterial, 0, len(msgs))
	for _, m := range msgs {
		material = append(material, canonicalMessageMaterial{
			ID:      strings.TrimSpace(m.MessageID),
			Role:    strings.ToUpper(strings.TrimSpace(m.Role)),
			Content: m.Content,
		})
	}
	return json.Marshal(material)
}

// ComputeTranscriptHash returns the lowercase-hex SHA-256 over the canonical transcript.
func ComputeTranscriptHash(msgs []MessageRecord) (string, error) {
	b, err := CanonicalTranscriptJSON(msgs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
