package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDeferralGenerate posts pending deferral entries for a company.
	TaskDeferralGenerate = "deferral:generate"
)

// DeferralGeneratePayload scopes one generation run. A zero CompanyID means
// every company with deferral settings; an empty Direction means both.
type DeferralGeneratePayload struct {
	CompanyID int64   `json:"company_id"`
	Direction string  `json:"direction,omitempty"`
	LineIDs   []int64 `json:"line_ids,omitempty"`
	ActorID   int64   `json:"actor_id,omitempty"`
}

// NewDeferralGenerateTask constructs an Asynq task.
func NewDeferralGenerateTask(payload DeferralGeneratePayload) (*asynq.Task, error) {
	switch payload.Direction {
	case "", "expense", "revenue":
	default:
		return nil, fmt.Errorf("jobs: invalid deferral direction %q", payload.Direction)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeferralGenerate, data, asynq.Queue(QueueDefault)), nil
}

// EnqueueDeferralGenerate enqueues a deferral generation task.
func (c *Client) EnqueueDeferralGenerate(ctx context.Context, payload DeferralGeneratePayload) (*asynq.TaskInfo, error) {
	task, err := NewDeferralGenerateTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}
