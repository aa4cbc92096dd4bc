package common

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	dockerTypes "github.com/docker/docker/api/types"
	dockerContainer "github.com/docker/docker/api/types/container"
	dockerNetwork "github.com/docker/docker/api/types/network"
	dockerCli "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements ContainerRuntime against a local Docker daemon
type DockerRuntime struct {
	ContainerRuntime

	timeout time.Duration
	docker  *dockerCli.Client
}

// NewDockerRuntime creates a new Docker container runtime
func NewDockerRuntime(timeout time.Duration) (r *DockerRuntime, err error) {
	apiClient, err := dockerCli.NewEnvClient()
	if err != nil {
		return nil, fmt.Errorf("Error creating Docker client: %s", err)
	}

	return &DockerRuntime{
		timeout: timeout,

		docker: apiClient,
	}, nil
}

// ImageBuild builds a Docker image from a given build context. The context actually simply is a tar
// archive of a folder containing a Dockerfile, the scoring adapter binary and the model artifact.
//
// Note that it is up to the caller to call Close() on the returned io.ReadCloser()
func (r *DockerRuntime) ImageBuild(name string, buildContext io.Reader) (output io.ReadCloser, err error) {
	build, err := r.docker.ImageBuild(context.Background(), buildContext, dockerTypes.ImageBuildOptions{
		Tags:           []string{name},
		SuppressOutput: false,
		NoCache:        false,
		Remove:         true,
		ForceRemove:    true,
		PullParent:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("[docker-runtime] Error building image %s: %s", name, err)
	}
	return build.Body, nil
}

// ImageUnload removes an image from the Docker daemon (equivalent to the "docker rmi" command)
func (r *DockerRuntime) ImageUnload(imageID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.docker.ImageRemove(ctx, imageID, dockerTypes.ImageRemoveOptions{
		Force:         true,
		PruneChildren: false,
	})
	if err != nil {
		return fmt.Errorf("[docker-runtime] Error removing image %s: %s", imageID, err)
	}
	return nil
}

// RunService starts a detached scoring container with hostPort bound to the container's scoring
// port. The container keeps running until StopService is called on it.
func (r *DockerRuntime) RunService(imageName, containerName string, hostPort, containerPort int) (containerID string, err error) {
	log.Printf("[INFO][docker-runtime] Running image %s as service container %s (port %d -> %d)", imageName, containerName, hostPort, containerPort)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	scoringPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", containerPort))
	if err != nil {
		return "", fmt.Errorf("[docker-runtime] Error building port spec for port %d: %s", containerPort, err)
	}

	containerCreateBody, err := r.docker.ContainerCreate(
		ctx,
		&dockerContainer.Config{
			AttachStdin:  false,
			AttachStdout: true,
			AttachStderr: true,
			Tty:          false,
			OpenStdin:    false,
			Image:        imageName,
			ExposedPorts: nat.PortSet{scoringPort: struct{}{}},
			Labels:       map[string]string{},
		},
		&dockerContainer.HostConfig{
			AutoRemove: false,
			Privileged: false,
			PortBindings: nat.PortMap{
				scoringPort: []nat.PortBinding{
					{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", hostPort)},
				},
			},
		},
		&dockerNetwork.NetworkingConfig{},
		nil,
		containerName,
	)
	if err != nil {
		return "", fmt.Errorf("Error creating Docker container %s: %s", containerName, err)
	}

	// Let's log any warning that was triggered
	for n, warning := range containerCreateBody.Warnings {
		log.Printf("[WARNING %d][docker-runtime] Warning creating container: %s", n, warning)
	}

	err = r.docker.ContainerStart(
		ctx,
		containerCreateBody.ID,
		dockerTypes.ContainerStartOptions{},
	)
	if err != nil {
		return "", fmt.Errorf("Error starting Docker container %s: %s", containerName, err)
	}

	return containerCreateBody.ID, nil
}

// StopService stops and removes a scoring container started with RunService
func (r *DockerRuntime) StopService(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	stopTimeout := 10 * time.Second
	if err := r.docker.ContainerStop(ctx, containerID, &stopTimeout); err != nil {
		return fmt.Errorf("[docker-runtime] Error stopping container %s: %s", containerID, err)
	}

	err := r.docker.ContainerRemove(ctx, containerID, dockerTypes.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("[docker-runtime] Error removing container %s: %s", containerID, err)
	}
	return nil
}
