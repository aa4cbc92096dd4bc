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
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/CloudScoreOrg/cloudscore/common"
	uuid "github.com/satori/go.uuid"
)

// Web service HTTP API routes
const (
	ServiceListRoute  = "/service"
	ServiceRoute      = "/service/%s"
	ServiceScoreRoute = "/service/%s/score"
)

// ErrServiceExists is returned by Deploy when the service name is already taken and the request
// did not carry the overwrite option. The platform refuses to silently create a duplicate.
var ErrServiceExists = errors.New("service name already in use (pass the overwrite option to redeploy)")

// DeployRequest asks the platform to run a built image as a managed web service
type DeployRequest struct {
	common.Checkable

	Name       string                      `json:"name"`
	ImageRef   string                      `json:"image_ref"`
	Descriptor common.DeploymentDescriptor `json:"descriptor"`
	Overwrite  bool                        `json:"overwrite"`
}

// Check returns nil if the deploy request is valid, an explicit error otherwise
func (r *DeployRequest) Check() (err error) {
	if r.Name == "" {
		return fmt.Errorf("name field is unset")
	}
	if r.ImageRef == "" {
		return fmt.Errorf("image_ref field is unset")
	}
	return r.Descriptor.Check()
}

// ServiceStatus is the state of a deployed (or deploying) web service. Detail carries the remote
// diagnostic (operation ID, orchestrator message) and MUST be surfaced on non-healthy outcomes.
type ServiceStatus struct {
	Name        string    `json:"name"`
	OperationID uuid.UUID `json:"operation_id"`
	State       string    `json:"state"`
	ScoringURI  string    `json:"scoring_uri,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// WebServices describes the platform's service deployment API
type WebServices interface {
	Deploy(request *DeployRequest) (operationID uuid.UUID, err error)
	GetService(name string) (status *ServiceStatus, err error)
	Run(name string, payload []byte) (response []byte, err error)
	Delete(name string) error
}

// WebServicesAPI is a wrapper around the platform's deployment HTTP API
type WebServicesAPI struct {
	WebServices

	Workspace *Workspace
}

// Deploy submits a deployment request and returns the operation ID to poll on. Deploying under an
// existing name without the overwrite option fails with ErrServiceExists.
func (s *WebServicesAPI) Deploy(request *DeployRequest) (operationID uuid.UUID, err error) {
	if err = request.Check(); err != nil {
		return uuid.Nil, fmt.Errorf("[service-api] Invalid deploy request: %s", err)
	}

	url := s.Workspace.URL(ServiceListRoute)
	payload, err := json.Marshal(request)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[service-api] Error JSON-marshaling deploy request: %s", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return uuid.Nil, fmt.Errorf("[service-api] Error building POST request against %s: %s", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Workspace.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[service-api] Error performing POST request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return uuid.Nil, fmt.Errorf("[service-api] Error deploying service %s: %s", request.Name, ErrServiceExists)
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return uuid.Nil, fmt.Errorf("[service-api] Bad status code (%s) performing POST request against %s", resp.Status, url)
	}

	status := &ServiceStatus{}
	if err = json.NewDecoder(resp.Body).Decode(status); err != nil {
		return uuid.Nil, fmt.Errorf("[service-api] Error un-marshaling deploy operation retrieved from %s: %s", url, err)
	}
	return status.OperationID, nil
}

// GetService fetches the current state of a web service
func (s *WebServicesAPI) GetService(name string) (status *ServiceStatus, err error) {
	url := s.Workspace.URL(fmt.Sprintf(ServiceRoute, name))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("[service-api] Error building GET request against %s: %s", url, err)
	}

	resp, err := s.Workspace.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[service-api] Error performing GET request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("[service-api] Bad status code (%s) performing GET request against %s", resp.Status, url)
	}

	status = &ServiceStatus{}
	if err = json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, fmt.Errorf("[service-api] Error un-marshaling service status retrieved from %s: %s", url, err)
	}
	if _, ok := common.ValidServiceStates[status.State]; !ok {
		return nil, fmt.Errorf("[service-api] Service state \"%s\" is invalid. Allowed values are %s", status.State, common.ValidServiceStates)
	}
	return status, nil
}

// Run submits a raw scoring payload through the service handle and returns the raw JSON response.
// Business-logic failures come back as a 200 with an "error" key, so any non-200 here is a
// transport or platform problem, never a model one.
func (s *WebServicesAPI) Run(name string, payload []byte) (response []byte, err error) {
	url := s.Workspace.URL(fmt.Sprintf(ServiceScoreRoute, name))
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("[service-api] Error building POST request against %s: %s", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Workspace.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[service-api] Error performing POST request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("[service-api] Bad status code (%s) running request against service %s", resp.Status, name)
	}

	response, err = ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("[service-api] Error reading scoring response from service %s: %s", name, err)
	}
	return response, nil
}

// Delete tears a web service down
func (s *WebServicesAPI) Delete(name string) error {
	url := s.Workspace.URL(fmt.Sprintf(ServiceRoute, name))
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("[service-api] Error building DELETE request against %s: %s", url, err)
	}

	resp, err := s.Workspace.Do(req)
	if err != nil {
		return fmt.Errorf("[service-api] Error performing DELETE request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("[service-api] Bad status code (%s) performing DELETE request against %s", resp.Status, url)
	}
	return nil
}

// WebServicesAPIMock is a mock of the deployment API. Deploying over ExistingService without the
// overwrite option conflicts, GetService walks the configured state sequence and Run replies with
// a canned scoring response.
type WebServicesAPIMock struct {
	WebServices

	ExistingService string
	StateSequence   []string
	ScoreResponse   []byte

	lock     sync.Mutex
	deployed map[string]uuid.UUID
	polls    map[string]int
}

// NewWebServicesAPIMock instantiates our mock of the deployment API
func NewWebServicesAPIMock() (s *WebServicesAPIMock) {
	return &WebServicesAPIMock{
		ExistingService: "service-that-already-exists",
		StateSequence:   []string{common.ServiceStateDeploying, common.ServiceStateDeploying, common.ServiceStateHealthy},
		ScoreResponse:   []byte(`{"result": [224970.5, 218893.0]}`),
		deployed:        map[string]uuid.UUID{},
		polls:           map[string]int{},
	}
}

// Deploy registers a fake deployment, honoring the overwrite semantics
func (s *WebServicesAPIMock) Deploy(request *DeployRequest) (operationID uuid.UUID, err error) {
	if err = request.Check(); err != nil {
		return uuid.Nil, fmt.Errorf("[service-mock] Invalid deploy request: %s", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	_, taken := s.deployed[request.Name]
	if (taken || request.Name == s.ExistingService) && !request.Overwrite {
		return uuid.Nil, fmt.Errorf("[service-mock] Error deploying service %s: %s", request.Name, ErrServiceExists)
	}

	operationID = uuid.NewV4()
	s.deployed[request.Name] = operationID
	s.polls[request.Name] = 0
	return operationID, nil
}

// GetService walks the configured state sequence, one step per call
func (s *WebServicesAPIMock) GetService(name string) (status *ServiceStatus, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	operationID, ok := s.deployed[name]
	if !ok {
		return nil, fmt.Errorf("[service-mock] Unknown service %s", name)
	}

	step := s.polls[name]
	s.polls[name] = step + 1
	if step >= len(s.StateSequence) {
		step = len(s.StateSequence) - 1
	}

	state := s.StateSequence[step]
	status = &ServiceStatus{
		Name:        name,
		OperationID: operationID,
		State:       state,
	}
	switch state {
	case common.ServiceStateHealthy:
		status.ScoringURI = fmt.Sprintf("http://%s.platform.invalid/score", name)
	case common.ServiceStateUnhealthy, common.ServiceStateFailed:
		status.Detail = fmt.Sprintf("operation %s ended in state %s", operationID, state)
	}
	return status, nil
}

// Run replies with the canned scoring response
func (s *WebServicesAPIMock) Run(name string, payload []byte) (response []byte, err error) {
	s.lock.Lock()
	_, ok := s.deployed[name]
	s.lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("[service-mock] Unknown service %s", name)
	}
	return s.ScoreResponse, nil
}

// Delete forgets a previously deployed service
func (s *WebServicesAPIMock) Delete(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.deployed[name]; !ok {
		return fmt.Errorf("[service-mock] Unknown service %s", name)
	}
	delete(s.deployed, name)
	delete(s.polls, name)
	return nil
}
