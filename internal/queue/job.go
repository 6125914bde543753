package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunJob asks a worker to run the delivery engine, optionally for one campaign
type RunJob struct {
	CampaignID  *int64    `json:"campaign_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// DecodeRunJob parses and checks a run trigger body
func DecodeRunJob(body []byte) (*RunJob, error) {
	var job RunJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run job: %w", err)
	}
	if job.CampaignID != nil && *job.CampaignID <= 0 {
		return nil, fmt.Errorf("invalid campaign id %d", *job.CampaignID)
	}
	return &job, nil
}
