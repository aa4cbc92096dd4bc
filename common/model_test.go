package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelArtifact = `{
	"name": "ames-housing-regression",
	"columns": ["Lot.Area", "Gr.Liv.Area"],
	"coefficients": {"Lot.Area": 1.5, "Gr.Liv.Area": 80.0},
	"intercept": 12500.0
}`

func testModel(t *testing.T) *LinearModel {
	model, err := LoadModel(strings.NewReader(modelArtifact))
	require.NoError(t, err)
	return model
}

func TestLoadModel(t *testing.T) {
	model := testModel(t)
	assert.Equal(t, "ames-housing-regression", model.Name)
	assert.Len(t, model.Columns, 2)
	assert.Equal(t, 12500.0, model.Intercept)
}

func TestLoadModelRejectsGarbage(t *testing.T) {
	_, err := LoadModel(strings.NewReader("not even json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "un-marshaling")
}

func TestLoadModelRejectsMissingCoefficient(t *testing.T) {
	_, err := LoadModel(strings.NewReader(`{
		"name": "broken",
		"columns": ["Lot.Area", "Gr.Liv.Area"],
		"coefficients": {"Lot.Area": 1.5},
		"intercept": 0
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coefficient for column Gr.Liv.Area")
}

func TestLoadModelRejectsUnnamedModel(t *testing.T) {
	_, err := LoadModel(strings.NewReader(`{
		"columns": ["Lot.Area"],
		"coefficients": {"Lot.Area": 1.5},
		"intercept": 0
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name field is unset")
}

func TestPredict(t *testing.T) {
	model := testModel(t)

	predictions, err := model.Predict(&ScoreRequest{
		Data: map[string][]float64{
			"Lot.Area":    {31770, 11622},
			"Gr.Liv.Area": {1656, 896},
		},
	})
	require.NoError(t, err)
	require.Len(t, predictions, 2)
	assert.Equal(t, 12500.0+1.5*31770+80.0*1656, predictions[0])
	assert.Equal(t, 12500.0+1.5*11622+80.0*896, predictions[1])
}

func TestPredictMissingModelColumn(t *testing.T) {
	model := testModel(t)

	_, err := model.Predict(&ScoreRequest{
		Data: map[string][]float64{"Lot.Area": {31770}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gr.Liv.Area")
	assert.Contains(t, err.Error(), "missing from the request")
}

func TestPredictUnknownRequestColumn(t *testing.T) {
	model := testModel(t)

	_, err := model.Predict(&ScoreRequest{
		Data: map[string][]float64{
			"Lot.Area":    {31770},
			"Gr.Liv.Area": {1656},
			"Pool.Area":   {0},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pool.Area")
	assert.Contains(t, err.Error(), "unknown to model")
}

func TestPredictMismatchedRowCounts(t *testing.T) {
	model := testModel(t)

	_, err := model.Predict(&ScoreRequest{
		Data: map[string][]float64{
			"Lot.Area":    {31770, 11622},
			"Gr.Liv.Area": {1656},
		},
	})
	require.Error(t, err)
}
