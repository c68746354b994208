package stage

import (
	"encoding/json"
	"strings"

	"conveyor/internal/services"
)

// NormalizeMetadata validates a metadata payload and returns it in canonical
// trimmed form. Empty input is allowed and yields an empty string. On
// malformed JSON it returns a services.ErrValidation suitable for rejecting
// an admission.
func NormalizeMetadata(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if !json.Valid([]byte(trimmed)) {
		return "", services.Wrap(
			services.ErrValidation, "stage", "normalize metadata",
			"Item metadata is not valid JSON", nil)
	}
	return trimmed, nil
}
