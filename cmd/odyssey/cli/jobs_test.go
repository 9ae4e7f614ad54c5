package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/deferrals/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	info     *asynq.QueueInfo
	archived []*asynq.TaskInfo
	listErr  error
	ran      []string
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, nil }

func (f *fakeInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.archived, f.listErr
}

func (f *fakeInspector) RunTask(_, id string) error {
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeInspector) Close() error { return errors.New("already closed") }

func TestJobsCLITrigger(t *testing.T) {
	client := &fakeEnqueuer{}
	c := &JobsCLI{client: client}

	info, err := c.Trigger(context.Background(), jobs.TaskDeferralGenerate, TriggerOptions{CompanyID: 2, Direction: "expense", LineIDs: []int64{5}})
	require.NoError(t, err)
	require.Equal(t, "t1", info.ID)
	require.Len(t, client.tasks, 1)

	var payload jobs.DeferralGeneratePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, jobs.DeferralGeneratePayload{CompanyID: 2, Direction: "expense", LineIDs: []int64{5}}, payload)

	_, err = c.Trigger(context.Background(), jobs.TaskDeferralGenerate, TriggerOptions{CompanyID: -1})
	require.Error(t, err)
	_, err = c.Trigger(context.Background(), "fx:refresh", TriggerOptions{})
	require.Error(t, err)
	_, err = c.Trigger(context.Background(), jobs.TaskDeferralGenerate, TriggerOptions{Direction: "assets"})
	require.Error(t, err)
}

func TestJobsCLIInspectAndFailed(t *testing.T) {
	inspector := &fakeInspector{
		info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 1, Archived: 2},
		archived: []*asynq.TaskInfo{
			{ID: "a", Type: jobs.TaskDeferralGenerate},
			{ID: "b", Type: "other"},
		},
	}
	c := &JobsCLI{inspector: inspector}

	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 1, Archived: 2}, stats)

	failed, err := c.ListFailed(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "a", failed[0].ID)

	require.NoError(t, c.Retry(context.Background(), "a"))
	require.Equal(t, []string{"a"}, inspector.ran)
	require.Error(t, c.Retry(context.Background(), ""))

	inspector.listErr = asynq.ErrQueueNotFound
	failed, err = c.ListFailed(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestJobsCLICloseJoinsErrors(t *testing.T) {
	c := &JobsCLI{client: &fakeEnqueuer{}, inspector: &fakeInspector{}}
	require.EqualError(t, c.Close(), "already closed")
}

func TestJobsCLIUnconfigured(t *testing.T) {
	c := &JobsCLI{}
	_, err := c.Trigger(context.Background(), jobs.TaskDeferralGenerate, TriggerOptions{})
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
	_, err = NewJobsCLI(asynq.RedisClientOpt{})
	require.Error(t, err)
}
