package common

import "io"

// ContainerRuntime abstracts the local container engine the deploy CLI can target instead of the
// managed platform: it can build scoring images and run them as long-lived, port-bound services.
type ContainerRuntime interface {
	// ImageBuild builds an image from a reader on a tar archive containing a Dockerfile and all
	// requirements to build it. It returns an io.ReadCloser on the builder's output stream.
	//
	// Note that it is up to the caller to call Close() on the returned io.ReadCloser
	ImageBuild(name string, buildContext io.Reader) (output io.ReadCloser, err error)

	// ImageUnload removes an image from the runtime's image store (aka from disk)
	ImageUnload(name string) error

	// RunService starts a detached container from the given image, binding hostPort to the
	// container's scoring port
	RunService(imageName, containerName string, hostPort, containerPort int) (containerID string, err error)

	// StopService stops and removes a container previously started with RunService
	StopService(containerID string) error
}
