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

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/CloudScoreOrg/cloudscore/common"
	uuid "github.com/satori/go.uuid"
)

// Image builder HTTP API routes
const (
	ImageListRoute = "/image"
	ImageRoute     = "/image/%s"
)

// ImageSpec is the build request handed to the platform's image builder: which registered model to
// embed, which scoring adapter to run and which environment to assemble around them. The build
// itself happens remotely.
type ImageSpec struct {
	common.Checkable

	Name         string                  `json:"name"`
	ModelName    string                  `json:"model_name"`
	ModelVersion int                     `json:"model_version"`
	Environment  *common.EnvironmentSpec `json:"environment"`
	ScorerEntry  string                  `json:"scorer_entrypoint"`

	// BuildContextPath is only meaningful to the local docker backend, the remote builder
	// assembles its own context
	BuildContextPath string `json:"-"`
}

// Check returns nil if the image spec is valid, an explicit error otherwise
func (s *ImageSpec) Check() (err error) {
	if s.Name == "" {
		return fmt.Errorf("name field is unset")
	}
	if s.ModelName == "" {
		return fmt.Errorf("model_name field is unset")
	}
	if s.ScorerEntry == "" {
		return fmt.Errorf("scorer_entrypoint field is unset")
	}
	if s.Environment == nil {
		return fmt.Errorf("environment field is unset")
	}
	return s.Environment.Check()
}

// ImageStatus is the state of a remote image build operation. BuildLogURI points at the remote
// build log and MUST be surfaced to the operator on failure.
type ImageStatus struct {
	OperationID uuid.UUID `json:"operation_id"`
	State       string    `json:"state"`
	ImageRef    string    `json:"image_ref,omitempty"`
	BuildLogURI string    `json:"build_log_uri,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// ImageBuilder describes the platform's image building API
type ImageBuilder interface {
	CreateImage(spec *ImageSpec) (operationID uuid.UUID, err error)
	GetImage(operationID uuid.UUID) (status *ImageStatus, err error)
}

// ImageBuilderAPI is a wrapper around the platform's image builder HTTP API
type ImageBuilderAPI struct {
	ImageBuilder

	Workspace *Workspace
}

// CreateImage submits an image build request and returns the operation ID to poll on
func (b *ImageBuilderAPI) CreateImage(spec *ImageSpec) (operationID uuid.UUID, err error) {
	if err = spec.Check(); err != nil {
		return uuid.Nil, fmt.Errorf("[image-api] Invalid image spec: %s", err)
	}

	url := b.Workspace.URL(ImageListRoute)
	payload, err := json.Marshal(spec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[image-api] Error JSON-marshaling image spec: %s", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return uuid.Nil, fmt.Errorf("[image-api] Error building POST request against %s: %s", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Workspace.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[image-api] Error performing POST request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return uuid.Nil, fmt.Errorf("[image-api] Bad status code (%s) performing POST request against %s", resp.Status, url)
	}

	status := &ImageStatus{}
	if err = json.NewDecoder(resp.Body).Decode(status); err != nil {
		return uuid.Nil, fmt.Errorf("[image-api] Error un-marshaling build operation retrieved from %s: %s", url, err)
	}
	return status.OperationID, nil
}

// GetImage fetches the current state of a build operation
func (b *ImageBuilderAPI) GetImage(operationID uuid.UUID) (status *ImageStatus, err error) {
	url := b.Workspace.URL(fmt.Sprintf(ImageRoute, operationID))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("[image-api] Error building GET request against %s: %s", url, err)
	}

	resp, err := b.Workspace.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[image-api] Error performing GET request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("[image-api] Bad status code (%s) performing GET request against %s", resp.Status, url)
	}

	status = &ImageStatus{}
	if err = json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, fmt.Errorf("[image-api] Error un-marshaling build status retrieved from %s: %s", url, err)
	}
	if _, ok := common.ValidImageStates[status.State]; !ok {
		return nil, fmt.Errorf("[image-api] Build state \"%s\" is invalid. Allowed values are %s", status.State, common.ValidImageStates)
	}
	return status, nil
}

// ImageBuilderAPIMock is a mock of the image builder API. Builds for EvilImageName end up failed
// (with a build log URI attached), everything else walks the configured state sequence.
type ImageBuilderAPIMock struct {
	ImageBuilder

	EvilImageName string
	StateSequence []string
	BuildLogURI   string

	lock       sync.Mutex
	operations map[uuid.UUID]string
	polls      map[uuid.UUID]int
}

// NewImageBuilderAPIMock instantiates our mock of the image builder API
func NewImageBuilderAPIMock() (b *ImageBuilderAPIMock) {
	return &ImageBuilderAPIMock{
		EvilImageName: "image-that-cannot-be-built",
		StateSequence: []string{common.ImageStateQueued, common.ImageStateRunning, common.ImageStateSucceeded},
		BuildLogURI:   "https://platform.invalid/buildlogs/mock.txt",
		operations:    map[uuid.UUID]string{},
		polls:         map[uuid.UUID]int{},
	}
}

// CreateImage registers a fake build operation
func (b *ImageBuilderAPIMock) CreateImage(spec *ImageSpec) (operationID uuid.UUID, err error) {
	if err = spec.Check(); err != nil {
		return uuid.Nil, fmt.Errorf("[image-mock] Invalid image spec: %s", err)
	}
	operationID = uuid.NewV4()
	b.lock.Lock()
	b.operations[operationID] = spec.Name
	b.lock.Unlock()
	return operationID, nil
}

// GetImage walks the configured state sequence, one step per call
func (b *ImageBuilderAPIMock) GetImage(operationID uuid.UUID) (status *ImageStatus, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	name, ok := b.operations[operationID]
	if !ok {
		return nil, fmt.Errorf("[image-mock] Unknown build operation %s", operationID)
	}

	step := b.polls[operationID]
	b.polls[operationID] = step + 1
	if step >= len(b.StateSequence) {
		step = len(b.StateSequence) - 1
	}

	state := b.StateSequence[step]
	if name == b.EvilImageName && state == common.ImageStateSucceeded {
		state = common.ImageStateFailed
	}

	status = &ImageStatus{OperationID: operationID, State: state}
	switch state {
	case common.ImageStateSucceeded:
		status.ImageRef = fmt.Sprintf("registry.invalid/%s:latest", name)
	case common.ImageStateFailed:
		status.BuildLogURI = b.BuildLogURI
	}
	return status, nil
}
