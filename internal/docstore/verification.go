package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// VerificationRecord is the content of the verification artifact: the
// checklist a verifier evaluated.
type VerificationRecord struct {
	SessionID  string        `json:"session_id"`
	Checks     []CheckResult `json:"checks"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Passed reports whether the record has at least one check and every
// check passes.
func (v VerificationRecord) Passed() bool {
	if len(v.Checks) == 0 {
		return false
	}
	for _, c := range v.Checks {
		if !c.Passing() {
			return false
		}
	}
	return true
}

// Encode renders v as artifact content.
func (v VerificationRecord) Encode() (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode verification record: %w", err)
	}
	return string(b), nil
}

// ParseVerification decodes verification artifact content.
func ParseVerification(content string) (VerificationRecord, error) {
	var v VerificationRecord
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return VerificationRecord{}, fmt.Errorf("%w: verification record: %v", ErrInvalidInput, err)
	}
	return v, nil
}

// verificationFailures lists why content does not prove a passing checklist.
func verificationFailures(content string) []string {
	v, err := ParseVerification(content)
	if err != nil {
		return []string{"unreadable verification record"}
	}
	if len(v.Checks) == 0 {
		return []string{"no checks recorded"}
	}
	var out []string
	for _, c := range v.Checks {
		if !c.Passing() {
			out = append(out, c.Name)
		}
	}
	return out
}
