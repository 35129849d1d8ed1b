package models

import (
	"fmt"
	"strings"
)

const (
	DockerPullStrategyDefault     DockerPullStrategy = "default"
	DockerPullStrategyNever       DockerPullStrategy = "never"
	DockerPullStrategyAlways      DockerPullStrategy = "always"
	DockerPullStrategyIfNotExists DockerPullStrategy = "if-not-exists"
)

// DockerPullStrategy governs whether an endpoint pulls an image before
// running a job against it.
type DockerPullStrategy string

func (m *DockerPullStrategy) Scan(src interface{}) error {
	if src == nil {
		*m = DockerPullStrategyDefault
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("error expected string but found: %T", src)
	}
	switch strings.ToLower(t) {
	case "", string(DockerPullStrategyDefault):
		*m = DockerPullStrategyDefault
	case string(DockerPullStrategyNever):
		*m = DockerPullStrategyNever
	case string(DockerPullStrategyAlways):
		*m = DockerPullStrategyAlways
	case string(DockerPullStrategyIfNotExists):
		*m = DockerPullStrategyIfNotExists
	default:
		return fmt.Errorf("error unknown Docker pull strategy: %s", t)
	}
	return nil
}

func (m DockerPullStrategy) Valid() bool {
	switch m {
	case DockerPullStrategyDefault, DockerPullStrategyNever, DockerPullStrategyAlways, DockerPullStrategyIfNotExists:
		return true
	default:
		return false
	}
}

func (m DockerPullStrategy) String() string { return string(m) }

// DockerBasicAuth is username/password registry authentication, covering
// Docker Hub and most third-party registries.
type DockerBasicAuth struct {
	Username string
	Password string
}
