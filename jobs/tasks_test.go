package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDeferralGenerateTask(t *testing.T) {
	task, err := NewDeferralGenerateTask(DeferralGeneratePayload{CompanyID: 3, Direction: "revenue", LineIDs: []int64{9}})
	require.NoError(t, err)
	require.Equal(t, TaskDeferralGenerate, task.Type())

	var payload DeferralGeneratePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(3), payload.CompanyID)
	require.Equal(t, "revenue", payload.Direction)
	require.Equal(t, []int64{9}, payload.LineIDs)
}

func TestNewDeferralGenerateTaskRejectsDirection(t *testing.T) {
	_, err := NewDeferralGenerateTask(DeferralGeneratePayload{Direction: "assets"})
	require.Error(t, err)
}
