package config

import (
	"os"
	"sync"
)

// dockerEnvPath exists in every Docker container.
var dockerEnvPath = "/.dockerenv"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether mixdb runs inside a Docker container.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat(dockerEnvPath)
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when running in Docker,
// so the CLI container can reach a PostgreSQL or Redis on the host machine.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return dockerHost(host)
}

func dockerHost(host string) string {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	default:
		return host
	}
}
