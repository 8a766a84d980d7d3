package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{StatusCanceled, StatusFailed, StatusFinished} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []JobStatus{StatusReady, StatusStarted, StatusCanceling} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.Equal(t, "status(9)", JobStatus(9).String())
}

func TestJobDescriptionUnmarshal(t *testing.T) {
	var d JobDescription
	err := json.Unmarshal([]byte(`{"JobID":"42","Status":5,"Message":"Query Complete","Target":"MyDB","Rows":17}`), &d)
	require.NoError(t, err)

	assert.Equal(t, int64(42), d.JobID)
	assert.Equal(t, StatusFinished, d.Status)
	assert.Equal(t, "Query Complete", d.Message)
	assert.Equal(t, "MyDB", d.Target)
	assert.Equal(t, float64(17), d.Raw["Rows"])
}

func TestJobDescriptionRejectsBadStatus(t *testing.T) {
	var d JobDescription
	err := json.Unmarshal([]byte(`{"JobID":1,"Status":"done"}`), &d)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"JobID":7,"Message":"oops"}`), &d)
	assert.ErrorContains(t, err, "no Status field")

	err = json.Unmarshal([]byte(`{"JobID":7,"Status":null}`), &d)
	assert.Error(t, err)
}

func TestJobDescriptionMarshalKeepsFullRecord(t *testing.T) {
	var d JobDescription
	require.NoError(t, json.Unmarshal([]byte(`{"JobID":42,"Status":1,"TimeSubmitted":"2024-05-01T10:00:00","OutputLoc":""}`), &d))
	d.Status = StatusFinished

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"JobID":42,"Status":5,"TimeSubmitted":"2024-05-01T10:00:00","OutputLoc":""}`, string(data))

	data, err = json.Marshal(JobDescription{JobID: 3, Status: StatusFailed, Message: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"JobID":3,"Status":4,"Message":"boom"}`, string(data))
}
