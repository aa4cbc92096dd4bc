package client

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"sync"

	"github.com/CloudScoreOrg/cloudscore/common"
	uuid "github.com/satori/go.uuid"
)

// LocalImageBuilder implements ImageBuilder against a local container runtime instead of the
// managed platform: the scoring image is built synchronously from a tar.gz build context on disk.
// Handy for dry-running a deployment sequence without a platform at hand.
type LocalImageBuilder struct {
	ImageBuilder

	Runtime common.ContainerRuntime

	lock   sync.Mutex
	builds map[uuid.UUID]*ImageStatus
}

// NewLocalImageBuilder creates a local image builder on top of the given container runtime
func NewLocalImageBuilder(runtime common.ContainerRuntime) *LocalImageBuilder {
	return &LocalImageBuilder{
		Runtime: runtime,
		builds:  map[uuid.UUID]*ImageStatus{},
	}
}

// CreateImage builds the image right away from spec.BuildContextPath (a tar.gz archive of a
// Dockerfile, the scoring adapter and the model artifact) and records the terminal status under a
// fresh operation ID. Polling on that ID then terminates on the first check.
func (b *LocalImageBuilder) CreateImage(spec *ImageSpec) (operationID uuid.UUID, err error) {
	if err = spec.Check(); err != nil {
		return uuid.Nil, fmt.Errorf("[local-builder] Invalid image spec: %s", err)
	}
	if spec.BuildContextPath == "" {
		return uuid.Nil, fmt.Errorf("[local-builder] No build context path set in image spec %s", spec.Name)
	}

	operationID = uuid.NewV4()
	status := &ImageStatus{OperationID: operationID}

	contextFile, err := os.Open(spec.BuildContextPath)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[local-builder] Error opening build context %s: %s", spec.BuildContextPath, err)
	}
	defer contextFile.Close()

	tarReader, err := gzip.NewReader(contextFile)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[local-builder] Error un-gzipping build context %s: %s", spec.BuildContextPath, err)
	}
	defer tarReader.Close()

	output, err := b.Runtime.ImageBuild(spec.Name, tarReader)
	if err != nil {
		status.State = common.ImageStateFailed
		status.Detail = err.Error()
	} else {
		// The docker build only really happens while its output stream is consumed
		var buildLog bytes.Buffer
		if _, err := buildLog.ReadFrom(output); err != nil {
			status.State = common.ImageStateFailed
			status.Detail = fmt.Sprintf("error reading build output: %s", err)
		} else {
			status.State = common.ImageStateSucceeded
			status.ImageRef = spec.Name
		}
		output.Close()
	}

	b.lock.Lock()
	b.builds[operationID] = status
	b.lock.Unlock()
	return operationID, nil
}

// GetImage returns the recorded terminal status of a local build
func (b *LocalImageBuilder) GetImage(operationID uuid.UUID) (status *ImageStatus, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	status, ok := b.builds[operationID]
	if !ok {
		return nil, fmt.Errorf("[local-builder] Unknown build operation %s", operationID)
	}
	return status, nil
}

type localService struct {
	containerID string
	imageRef    string
	hostPort    int
	operationID uuid.UUID
}

// LocalWebServices implements WebServices on top of a local container runtime: Deploy runs the
// scoring image as a detached container with a bound host port, GetService probes the adapter's
// health route and Run posts straight to its scoring route.
type LocalWebServices struct {
	WebServices

	Runtime common.ContainerRuntime

	// ScoringPort is the port the scoring adapter listens on inside its container
	ScoringPort int
	// BasePort is the first host port handed out to deployed services
	BasePort int

	lock     sync.Mutex
	nextPort int
	services map[string]*localService
}

// NewLocalWebServices creates a local deployment backend on top of the given container runtime
func NewLocalWebServices(runtime common.ContainerRuntime, scoringPort, basePort int) *LocalWebServices {
	return &LocalWebServices{
		Runtime:     runtime,
		ScoringPort: scoringPort,
		BasePort:    basePort,
		nextPort:    basePort,
		services:    map[string]*localService{},
	}
}

// Deploy starts the image as a local service container, honoring the overwrite semantics
func (s *LocalWebServices) Deploy(request *DeployRequest) (operationID uuid.UUID, err error) {
	if err = request.Check(); err != nil {
		return uuid.Nil, fmt.Errorf("[local-services] Invalid deploy request: %s", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if existing, taken := s.services[request.Name]; taken {
		if !request.Overwrite {
			return uuid.Nil, fmt.Errorf("[local-services] Error deploying service %s: %s", request.Name, ErrServiceExists)
		}
		if err := s.Runtime.StopService(existing.containerID); err != nil {
			return uuid.Nil, fmt.Errorf("[local-services] Error stopping previous %s container: %s", request.Name, err)
		}
		delete(s.services, request.Name)
	}

	hostPort := s.nextPort
	s.nextPort++

	containerID, err := s.Runtime.RunService(request.ImageRef, request.Name, hostPort, s.ScoringPort)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[local-services] Error running service %s: %s", request.Name, err)
	}

	operationID = uuid.NewV4()
	s.services[request.Name] = &localService{
		containerID: containerID,
		imageRef:    request.ImageRef,
		hostPort:    hostPort,
		operationID: operationID,
	}
	return operationID, nil
}

// GetService probes the local container's health route to decide its state
func (s *LocalWebServices) GetService(name string) (status *ServiceStatus, err error) {
	s.lock.Lock()
	service, ok := s.services[name]
	s.lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("[local-services] Unknown service %s", name)
	}

	status = &ServiceStatus{
		Name:        name,
		OperationID: service.operationID,
		ScoringURI:  fmt.Sprintf("http://localhost:%d/score", service.hostPort),
	}

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", service.hostPort))
	if err != nil {
		// The container may still be starting up
		status.State = common.ServiceStateDeploying
		status.Detail = err.Error()
		return status, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		status.State = common.ServiceStateHealthy
	} else {
		status.State = common.ServiceStateUnhealthy
		status.Detail = fmt.Sprintf("health probe replied %s", resp.Status)
	}
	return status, nil
}

// Run posts the payload straight to the local container's scoring route
func (s *LocalWebServices) Run(name string, payload []byte) (response []byte, err error) {
	s.lock.Lock()
	service, ok := s.services[name]
	s.lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("[local-services] Unknown service %s", name)
	}

	url := fmt.Sprintf("http://localhost:%d/score", service.hostPort)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("[local-services] Error performing POST request against %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("[local-services] Bad status code (%s) running request against service %s", resp.Status, name)
	}

	response, err = ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("[local-services] Error reading scoring response from service %s: %s", name, err)
	}
	return response, nil
}

// Delete stops the local service container and unloads its image from the runtime
func (s *LocalWebServices) Delete(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	service, ok := s.services[name]
	if !ok {
		return fmt.Errorf("[local-services] Unknown service %s", name)
	}
	if err := s.Runtime.StopService(service.containerID); err != nil {
		return fmt.Errorf("[local-services] Error stopping service %s: %s", name, err)
	}
	if err := s.Runtime.ImageUnload(service.imageRef); err != nil {
		return fmt.Errorf("[local-services] Error unloading image %s: %s", service.imageRef, err)
	}
	delete(s.services, name)
	return nil
}
