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
	"fmt"
)

// Image build states, as reported by the platform's image builder
const (
	ImageStateQueued    = "queued"
	ImageStateRunning   = "running"
	ImageStateSucceeded = "succeeded"
	ImageStateFailed    = "failed"
)

var (
	// ValidImageStates is a set of all possible image build states
	ValidImageStates = map[string]struct{}{
		ImageStateQueued:    struct{}{},
		ImageStateRunning:   struct{}{},
		ImageStateSucceeded: struct{}{},
		ImageStateFailed:    struct{}{},
	}

	// TerminalImageStates is the subset of image build states after which the
	// build can't make any more progress
	TerminalImageStates = map[string]struct{}{
		ImageStateSucceeded: struct{}{},
		ImageStateFailed:    struct{}{},
	}
)

// Web service states, as reported by the platform's deployment orchestrator
const (
	ServiceStateDeploying = "deploying"
	ServiceStateHealthy   = "healthy"
	ServiceStateUnhealthy = "unhealthy"
	ServiceStateFailed    = "failed"
	ServiceStateDeleting  = "deleting"
)

var (
	// ValidServiceStates is a set of all possible values for a web service's
	// "state" field
	ValidServiceStates = map[string]struct{}{
		ServiceStateDeploying: struct{}{},
		ServiceStateHealthy:   struct{}{},
		ServiceStateUnhealthy: struct{}{},
		ServiceStateFailed:    struct{}{},
		ServiceStateDeleting:  struct{}{},
	}

	// TerminalServiceStates is the subset of service states a deployment can
	// settle in
	TerminalServiceStates = map[string]struct{}{
		ServiceStateHealthy:   struct{}{},
		ServiceStateUnhealthy: struct{}{},
		ServiceStateFailed:    struct{}{},
	}
)

// Checkable is an Interface for things that can be Checked (i.e. validated after a JSON parsing for
// instance)
type Checkable interface {
	Check() (err error)
}

// ScoreRequest is the columnar payload sent to a deployed scoring service: one ordered sequence of
// values per feature column, all sequences sharing the same length (one entry per row to score).
type ScoreRequest struct {
	Checkable

	Data map[string][]float64 `json:"data"`
}

// Check returns nil if the score request is valid, an explicit error otherwise. In particular it
// enforces that every column carries the same number of rows.
func (r *ScoreRequest) Check() (err error) {
	if len(r.Data) == 0 {
		return fmt.Errorf("data field is empty or unset")
	}

	rows := -1
	reference := ""
	for column, values := range r.Data {
		if rows < 0 {
			rows = len(values)
			reference = column
			continue
		}
		if len(values) != rows {
			return fmt.Errorf("column %s has %d rows, column %s has %d", column, len(values), reference, rows)
		}
	}

	if rows == 0 {
		return fmt.Errorf("request columns are empty (zero rows to score)")
	}

	return nil
}

// NumRows returns the number of rows to score. A valid (Check-ed) request has one unambiguous row
// count; on an unchecked request the first column gets to decide.
func (r *ScoreRequest) NumRows() int {
	for _, values := range r.Data {
		return len(values)
	}
	return 0
}

// ScoreResponse is what a scoring service replies: a prediction per input row under "result", or a
// stringified failure under "error". Exactly one of the two keys is ever set.
type ScoreResponse struct {
	Result []float64 `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewScoreResult wraps predictions in a successful ScoreResponse
func NewScoreResult(predictions []float64) *ScoreResponse {
	return &ScoreResponse{Result: predictions}
}

// NewScoreError wraps a scoring failure in a ScoreResponse. The transport layer still replies 200,
// callers discriminate on the "error" key.
func NewScoreError(err error) *ScoreResponse {
	return &ScoreResponse{Error: err.Error()}
}

// DeploymentDescriptor holds the resource sizing and metadata attached to a deployment request.
// It is set once at deploy time and never mutated afterwards.
type DeploymentDescriptor struct {
	Checkable

	CPUCores    float64           `json:"cpu_cores"`
	MemoryGB    float64           `json:"memory_gb"`
	Tags        map[string]string `json:"tags,omitempty"`
	Description string            `json:"description,omitempty"`
}

// Check returns nil if the descriptor is valid, an explicit error otherwise
func (d *DeploymentDescriptor) Check() (err error) {
	if d.CPUCores <= 0 {
		return fmt.Errorf("cpu_cores field must be strictly positive (provided: %g)", d.CPUCores)
	}
	if d.MemoryGB <= 0 {
		return fmt.Errorf("memory_gb field must be strictly positive (provided: %g)", d.MemoryGB)
	}
	return nil
}
