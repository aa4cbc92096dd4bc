/*
 * Copyright CloudScore Org. 2018
 *
 * contact@cloudscore.org
 *
 * This software is part of the CloudScore project, an open-source machine
 * learning deployment platform.
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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/CloudScoreOrg/cloudscore/client"
	"github.com/CloudScoreOrg/cloudscore/common"
)

// Sequencer drives one deployment end to end: workspace attachment, model resolution, image
// build, service deployment and a final test scoring request. Every step blocks until done, a
// failed step aborts the run, and nothing is retried.
type Sequencer struct {
	Conf *DeployConfig

	Workspace *client.Workspace
	Registry  client.ModelRegistry
	Images    client.ImageBuilder
	Services  client.WebServices

	// Artifacts, when set, gives direct access to the artifact bucket for the pre-deployment
	// model sanity check. When nil the artifact is fetched through the registry API instead.
	Artifacts common.BlobStore

	Ledger Ledger
}

// NewSequencer assembles a deployment sequencer from its backends
func NewSequencer(conf *DeployConfig, workspace *client.Workspace, registry client.ModelRegistry, images client.ImageBuilder, services client.WebServices, artifacts common.BlobStore, ledger Ledger) *Sequencer {
	return &Sequencer{
		Conf:      conf,
		Workspace: workspace,
		Registry:  registry,
		Images:    images,
		Services:  services,
		Artifacts: artifacts,
		Ledger:    ledger,
	}
}

// Run performs the whole deployment sequence and records its outcome in the ledger. The returned
// error, if any, names the step that failed and carries the remote diagnostic (build log URI,
// operation ID) when the platform provided one.
func (s *Sequencer) Run() error {
	record := &DeploymentRecord{
		ID:           uuid.NewV4(),
		ServiceName:  s.Conf.ServiceName,
		ModelName:    s.Conf.ModelName,
		ModelVersion: s.Conf.ModelVersion,
		ImageName:    s.Conf.ImageName,
		State:        RunStateRunning,
		StartedAt:    time.Now(),
	}
	if err := s.Ledger.Insert(record); err != nil {
		return err
	}

	err := s.run()
	record.DoneAt = time.Now()
	record.State = RunStateSucceeded
	if err != nil {
		record.State = RunStateFailed
		if result, ok := err.(*pollError); ok && result.Outcome == client.PollTimedOut {
			record.State = RunStateTimedOut
		}
		record.Diagnostic = err.Error()
	}
	if ledgerErr := s.Ledger.Update(record); ledgerErr != nil {
		log.Printf("[ERROR][sequencer] %s", ledgerErr)
	}
	return err
}

// pollError is a step failure reported by a poll, keeping the outcome apart so that a timeout can
// be told from a genuine remote failure, both in the error message and in the ledger.
type pollError struct {
	client.PollResult

	message string
}

func (e *pollError) Error() string {
	return e.message
}

func (s *Sequencer) run() error {
	// Step 1: check the workspace accepts our credentials before doing anything else
	if s.Workspace != nil {
		if err := s.Workspace.Attach(); err != nil {
			return err
		}
		log.Printf("[INFO][sequencer] Attached to workspace %s", s.Workspace.Conf.WorkspaceName)
	}

	// Step 2: resolve the model reference (version 0 addresses the latest)
	ref, err := s.Registry.GetModel(s.Conf.ModelName, s.Conf.ModelVersion)
	if err != nil {
		return err
	}
	log.Printf("[INFO][sequencer] Resolved model %s to version %d (artifact %s)", ref.Name, ref.Version, ref.ArtifactKey)

	// Step 3: fetch the artifact and make sure it actually loads as a model, so that a corrupt
	// upload fails here instead of inside the built image
	if err = s.checkArtifact(ref); err != nil {
		return err
	}

	// Step 4: submit the image build and await its terminal state
	imageStatus, err := s.buildImage(ref)
	if err != nil {
		return err
	}
	log.Printf("[INFO][sequencer] Image %s built (ref %s)", s.Conf.ImageName, imageStatus.ImageRef)

	// Step 5: deploy the image as a web service and await its terminal state
	serviceStatus, err := s.deployService(imageStatus.ImageRef)
	if err != nil {
		return err
	}
	log.Printf("[INFO][sequencer] Service %s is healthy (scoring URI %s)", s.Conf.ServiceName, serviceStatus.ScoringURI)

	// Step 6: exercise the service once with the sample request and show the raw response
	return s.testService()
}

// checkArtifact loads the model artifact through the configured store (or the registry API) and
// validates it with the exact loader the scoring adapter uses at container startup
func (s *Sequencer) checkArtifact(ref *client.ModelReference) error {
	var (
		reader io.ReadCloser
		err    error
	)
	if s.Artifacts != nil {
		reader, err = s.Artifacts.Get(ref.ArtifactKey)
	} else {
		reader, err = s.Registry.GetModelArtifact(ref)
	}
	if err != nil {
		return fmt.Errorf("[sequencer] Error fetching artifact %s: %s", ref.ArtifactKey, err)
	}
	defer reader.Close()

	model, err := common.LoadModel(reader)
	if err != nil {
		return fmt.Errorf("[sequencer] Artifact %s is not a loadable model: %s", ref.ArtifactKey, err)
	}
	log.Printf("[INFO][sequencer] Artifact sanity check passed: model %s expects %d columns", model.Name, len(model.Columns))
	return nil
}

// buildImage submits the image build and polls the operation until it settles. A failed build
// surfaces the build log URI, a timed out one is reported as such.
func (s *Sequencer) buildImage(ref *client.ModelReference) (*client.ImageStatus, error) {
	envFile, err := os.Open(s.Conf.EnvSpecPath)
	if err != nil {
		return nil, fmt.Errorf("[sequencer] Error opening environment spec %s: %s", s.Conf.EnvSpecPath, err)
	}
	environment, err := common.LoadEnvironmentSpec(envFile)
	envFile.Close()
	if err != nil {
		return nil, err
	}

	spec := &client.ImageSpec{
		Name:             s.Conf.ImageName,
		ModelName:        ref.Name,
		ModelVersion:     ref.Version,
		Environment:      environment,
		ScorerEntry:      s.Conf.ScorerEntry,
		BuildContextPath: s.Conf.BuildContextPath,
	}
	operationID, err := s.Images.CreateImage(spec)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO][sequencer] Image build submitted (operation %s)", operationID)

	var last *client.ImageStatus
	result, err := client.Poll(
		fmt.Sprintf("build of image %s", s.Conf.ImageName),
		s.Conf.PollInterval, s.Conf.ImageTimeout,
		func() (terminal bool, ok bool, state string, diagnostic string, err error) {
			status, err := s.Images.GetImage(operationID)
			if err != nil {
				return false, false, "", "", err
			}
			last = status
			_, terminal = common.TerminalImageStates[status.State]
			diagnostic = status.BuildLogURI
			if diagnostic == "" {
				diagnostic = status.Detail
			}
			return terminal, status.State == common.ImageStateSucceeded, status.State, diagnostic, nil
		},
	)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case client.PollFailed:
		message := fmt.Sprintf("[sequencer] Image build failed (operation %s, state %s)", operationID, result.State)
		if result.Diagnostic != "" {
			message = fmt.Sprintf("%s. Build log: %s", message, result.Diagnostic)
		}
		return nil, &pollError{result, message}
	case client.PollTimedOut:
		return nil, &pollError{result, fmt.Sprintf("[sequencer] Image build timed out (operation %s): %s", operationID, result.Diagnostic)}
	}
	return last, nil
}

// deployService submits the deployment and polls the service until it settles. An unhealthy or
// failed service and a timed out deployment are reported as three distinct failures.
func (s *Sequencer) deployService(imageRef string) (*client.ServiceStatus, error) {
	request := &client.DeployRequest{
		Name:     s.Conf.ServiceName,
		ImageRef: imageRef,
		Descriptor: common.DeploymentDescriptor{
			CPUCores:    s.Conf.CPUCores,
			MemoryGB:    s.Conf.MemoryGB,
			Tags:        s.Conf.Tags,
			Description: s.Conf.Description,
		},
		Overwrite: s.Conf.Overwrite,
	}
	operationID, err := s.Services.Deploy(request)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO][sequencer] Deployment of service %s submitted (operation %s)", s.Conf.ServiceName, operationID)

	var last *client.ServiceStatus
	result, err := client.Poll(
		fmt.Sprintf("deployment of service %s", s.Conf.ServiceName),
		s.Conf.PollInterval, s.Conf.DeployTimeout,
		func() (terminal bool, ok bool, state string, diagnostic string, err error) {
			status, err := s.Services.GetService(s.Conf.ServiceName)
			if err != nil {
				return false, false, "", "", err
			}
			last = status
			_, terminal = common.TerminalServiceStates[status.State]
			return terminal, status.State == common.ServiceStateHealthy, status.State, status.Detail, nil
		},
	)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case client.PollFailed:
		message := fmt.Sprintf("[sequencer] Service %s settled %s instead of healthy (operation %s)", s.Conf.ServiceName, result.State, operationID)
		if result.Diagnostic != "" {
			message = fmt.Sprintf("%s: %s", message, result.Diagnostic)
		}
		return nil, &pollError{result, message}
	case client.PollTimedOut:
		return nil, &pollError{result, fmt.Sprintf("[sequencer] Deployment of service %s timed out (operation %s): %s", s.Conf.ServiceName, operationID, result.Diagnostic)}
	}
	return last, nil
}

// testService sends the sample scoring request through the service handle and prints the raw JSON
// response. Scoring errors come back as a 200 with an "error" key, so the response is parsed and
// an error key fails the run even though the transport succeeded.
func (s *Sequencer) testService() error {
	payload, err := ioutil.ReadFile(s.Conf.SampleRequestPath)
	if err != nil {
		return fmt.Errorf("[sequencer] Error reading sample request %s: %s", s.Conf.SampleRequestPath, err)
	}

	response, err := s.Services.Run(s.Conf.ServiceName, payload)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", response)

	parsed := common.ScoreResponse{}
	if err := json.Unmarshal(response, &parsed); err != nil {
		return fmt.Errorf("[sequencer] Service %s replied with an un-parsable score response: %s", s.Conf.ServiceName, err)
	}
	if parsed.Error != "" {
		return fmt.Errorf("[sequencer] Test scoring request failed: %s", parsed.Error)
	}
	log.Printf("[INFO][sequencer] Test scoring request succeeded (%d result rows)", len(parsed.Result))
	return nil
}
