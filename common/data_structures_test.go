package common

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreRequestCheck(t *testing.T) {
	request := &ScoreRequest{
		Data: map[string][]float64{
			"Lot.Area":    {31770, 11622},
			"Gr.Liv.Area": {1656, 896},
		},
	}
	require.NoError(t, request.Check())
	assert.Equal(t, 2, request.NumRows())
}

func TestScoreRequestCheckMismatchedColumns(t *testing.T) {
	request := &ScoreRequest{
		Data: map[string][]float64{
			"Lot.Area":    {31770, 11622},
			"Gr.Liv.Area": {1656},
		},
	}
	require.Error(t, request.Check())
}

func TestScoreRequestCheckEmpty(t *testing.T) {
	assert.Error(t, (&ScoreRequest{}).Check())
	assert.Error(t, (&ScoreRequest{Data: map[string][]float64{"Lot.Area": {}}}).Check())
}

func TestScoreResponseSingleKey(t *testing.T) {
	raw, err := json.Marshal(NewScoreResult([]float64{224970.5}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result": [224970.5]}`, string(raw))

	raw, err = json.Marshal(NewScoreError(fmt.Errorf("column Lot.Area is missing")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error": "column Lot.Area is missing"}`, string(raw))
}

func TestDeploymentDescriptorCheck(t *testing.T) {
	descriptor := &DeploymentDescriptor{CPUCores: 1, MemoryGB: 0.5}
	assert.NoError(t, descriptor.Check())

	assert.Error(t, (&DeploymentDescriptor{CPUCores: 0, MemoryGB: 1}).Check())
	assert.Error(t, (&DeploymentDescriptor{CPUCores: 1, MemoryGB: -1}).Check())
}
