/*
 * Copyright CloudScore Org. 2018
 *
 * contact@cloudscore.org
 *
 * This software is part of the CloudScore project, an open-source machine
 * learning deployment toolkit.
 *
 * This software is governed by the CeCILL license, compatible with the
 * GNU GPL, under French law and abiding by the rules of distribution of
 * free software. You can  use, modify and/ or redistribute the software
 * under the terms of the CeCILL license as circulated by CEA, CNRS and
 * INRIA at the following URL "http://www.cecill.info".
 *
 * As a counterpart to the access to the source code and  rights to copy,
 * modify and redistribute granted by the license, users are provided only
 * with a limited warranty  and the software's author,  the holder of the
 * economic rights,  and the successive licensors  have only  limited
 * liability.
 *
 * In this respect, the user's attention is drawn to the risks associated
 * with loading,  using,  modifying and/or developing or reproducing the
 * software by the user in light of its specific status of free software,
 * that may mean  that it is complicated to manipulate,  and  that  also
 * therefore means  that it is reserved for developers  and  experienced
 * professionals having in-depth computer knowledge. Users are therefore
 * encouraged to load and test the software's suitability as regards their
 * requirements in conditions enabling the security of their systems and/or
 * data to be ensured and,  more generally, to use and operate it in the
 * same conditions as regards security.
 *
 * The fact that you are presently reading this means that you have had
 * knowledge of the CeCILL license and that you accept its terms.
 */

package common

import (
	"encoding/json"
	"fmt"
	"io"
)

// LinearModel is the deserialized form of a trained regression artifact: a weight per feature
// column plus an intercept. Training happens elsewhere, this code only ever reads the artifact.
// Once loaded a LinearModel is never mutated, so it is safe to share across request handlers.
type LinearModel struct {
	Checkable

	Name         string             `json:"name"`
	Columns      []string           `json:"columns"`
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
}

// LoadModel deserializes a model artifact from a reader and validates it
func LoadModel(r io.Reader) (*LinearModel, error) {
	model := &LinearModel{}
	if err := json.NewDecoder(r).Decode(model); err != nil {
		return nil, fmt.Errorf("[model] Error un-marshaling model artifact: %s", err)
	}
	if err := model.Check(); err != nil {
		return nil, fmt.Errorf("[model] Invalid model artifact: %s", err)
	}
	return model, nil
}

// Check returns nil if the model artifact is consistent, an explicit error otherwise
func (m *LinearModel) Check() (err error) {
	if m.Name == "" {
		return fmt.Errorf("name field is unset")
	}

	if len(m.Columns) == 0 {
		return fmt.Errorf("columns field is empty or unset")
	}

	for _, column := range m.Columns {
		if _, ok := m.Coefficients[column]; !ok {
			return fmt.Errorf("no coefficient for column %s", column)
		}
	}

	if len(m.Coefficients) != len(m.Columns) {
		return fmt.Errorf("%d coefficients for %d columns", len(m.Coefficients), len(m.Columns))
	}

	return nil
}

// Predict scores every row of the request and returns one prediction per row, in row order. The
// request must carry exactly the model's feature columns, all with the same number of rows.
func (m *LinearModel) Predict(request *ScoreRequest) (predictions []float64, err error) {
	if err = request.Check(); err != nil {
		return nil, err
	}

	for _, column := range m.Columns {
		if _, ok := request.Data[column]; !ok {
			return nil, fmt.Errorf("column %s required by model %s is missing from the request", column, m.Name)
		}
	}
	for column := range request.Data {
		if _, ok := m.Coefficients[column]; !ok {
			return nil, fmt.Errorf("column %s is unknown to model %s", column, m.Name)
		}
	}

	rows := request.NumRows()
	predictions = make([]float64, rows)
	for i := 0; i < rows; i++ {
		prediction := m.Intercept
		for _, column := range m.Columns {
			prediction += m.Coefficients[column] * request.Data[column][i]
		}
		predictions[i] = prediction
	}

	return predictions, nil
}
