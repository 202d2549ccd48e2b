package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskJSONRoundTrip(t *testing.T) {
	task := &Task{
		DatasourceConfig: DatasourceConfig{
			ID:       "ds-1",
			State:    StateReady,
			Priority: 5,
			RequestParams: RequestParams{
				APIURL:   "https://x/api?p={0}",
				Headers:  map[string]string{"User-Agent": "ua"},
				Postdata: map[string]string{"pageSize": "10"},
			},
			Pagination: []int{1, 1},
		},
		TaskID:    "ds-1",
		Timestamp: 1692950400,
	}

	body, err := task.ToJSON()
	require.NoError(t, err)

	decoded, err := TaskFromJSON(body)
	require.NoError(t, err)

	// The datasource fields are flattened onto the wire, not nested.
	assert.Contains(t, string(body), `"api_url":"https://x/api?p={0}"`)
	assert.Equal(t, "ds-1", decoded.ID)
	assert.Equal(t, "ds-1", decoded.TaskID)
	assert.Equal(t, 5, decoded.Priority)
	assert.Equal(t, []int{1, 1}, decoded.Pagination)
}

func TestTaskFromJSON_Malformed(t *testing.T) {
	_, err := TaskFromJSON([]byte("{nope"))
	assert.Error(t, err)
}
