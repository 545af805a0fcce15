package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. prefix is the configured subject
// prefix. Unknown subjects pass validation.
func Validate(prefix, subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return nil
	}

	switch {
	case strings.HasPrefix(rest, SubjectBus+"."):
		var p EnvelopePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ID == "" || p.Channel == "" || p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("id, channel and type are required"))
		}
	case strings.HasPrefix(rest, SubjectAssignPhase+"."):
		var p AssignPhasePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.PhaseID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("phase_id is required"))
		}
	case strings.HasPrefix(rest, SubjectCancelPhase+"."):
		var p CancelPhasePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case rest == SubjectHeartbeat:
		var p HeartbeatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.AgentID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("agent_id is required"))
		}
	}
	return nil
}
