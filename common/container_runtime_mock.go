package common

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"sync"
)

// MockContainerRuntime pretends to build images and run services (for tests & local dev. purposes)
type MockContainerRuntime struct {
	lock     sync.Mutex
	images   map[string]struct{}
	services map[string]string

	// EvilImage makes ImageBuild fail when asked to build an image with that name
	EvilImage string
}

// NewMockContainerRuntime instantiates our mock of the container runtime
func NewMockContainerRuntime() *MockContainerRuntime {
	return &MockContainerRuntime{
		images:   map[string]struct{}{},
		services: map[string]string{},

		EvilImage: "evil-image",
	}
}

// ImageBuild swallows the build context and records the image name
func (r *MockContainerRuntime) ImageBuild(name string, buildContext io.Reader) (output io.ReadCloser, err error) {
	if _, err := io.Copy(ioutil.Discard, buildContext); err != nil {
		return nil, err
	}
	if name == r.EvilImage {
		return nil, fmt.Errorf("[mock-runtime] Error building image %s", name)
	}
	r.lock.Lock()
	r.images[name] = struct{}{}
	r.lock.Unlock()
	return ioutil.NopCloser(bytes.NewBufferString("{}")), nil
}

// ImageUnload forgets a previously built image
func (r *MockContainerRuntime) ImageUnload(name string) error {
	r.lock.Lock()
	delete(r.images, name)
	r.lock.Unlock()
	return nil
}

// RunService records the service container and returns a fake container ID
func (r *MockContainerRuntime) RunService(imageName, containerName string, hostPort, containerPort int) (containerID string, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.images[imageName]; !ok {
		return "", fmt.Errorf("[mock-runtime] Unknown image %s", imageName)
	}
	containerID = fmt.Sprintf("mock-%s", containerName)
	r.services[containerID] = imageName
	log.Printf("[mock-runtime] Running image %s as container %s", imageName, containerID)
	return containerID, nil
}

// StopService forgets a previously started service container
func (r *MockContainerRuntime) StopService(containerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.services[containerID]; !ok {
		return fmt.Errorf("[mock-runtime] Unknown container %s", containerID)
	}
	delete(r.services, containerID)
	return nil
}
