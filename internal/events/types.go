package events

import (
	"encoding/base64"
	"encoding/json"
)

// ResumeToken is the opaque value handed back to a caller when a fiche run
// is interrupted (spec.md §4.3 point 4, §4.5 Phase 1): the checkpoint is
// keyed by thread_id so the Fiche Runner can resume exactly where the LLM
// graph left off once the pending commis jobs resolve.
type ResumeToken struct {
	CheckpointID string   `json:"c"`
	JobIDs       []string `json:"j"`
}

// EncodeResumeToken creates an opaque string token.
func EncodeResumeToken(checkpointID string, jobIDs []string) string {
	token := ResumeToken{
		CheckpointID: checkpointID,
		JobIDs:       jobIDs,
	}
	data, _ := json.Marshal(token)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeResumeToken extracts the checkpoint ID and pending job IDs.
func DecodeResumeToken(tokenStr string) (checkpointID string, jobIDs []string, err error) {
	data, err := base64.RawURLEncoding.DecodeString(tokenStr)
	if err != nil {
		return "", nil, err
	}
	var token ResumeToken
	if err := json.Unmarshal(data, &token); err != nil {
		return "", nil, err
	}
	return token.CheckpointID, token.JobIDs, nil
}
