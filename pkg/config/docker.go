package config

import (
	"os"
	"sync"
)

// dockerHostGateway is the name a container uses to reach ports published on its host.
const dockerHostGateway = "host.docker.internal"

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// IsRunningInDocker reports whether the engine runs inside a Docker container.
// The answer is read once from /.dockerenv and cached.
func IsRunningInDocker() bool {
	inDockerOnce.Do(func() {
		inDocker = detectDocker("/.dockerenv")
	})
	return inDocker
}

func detectDocker(marker string) bool {
	_, err := os.Stat(marker)
	return err == nil
}

// ResolveHostForDocker maps a loopback host of the control-plane database or
// Redis to the Docker host gateway when the engine runs in a container.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, containerized bool) string {
	if !containerized {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostGateway
	}
	return host
}
