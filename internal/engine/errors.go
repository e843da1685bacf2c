package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned by an Engine that was not built with New or NewWithBackend.
	ErrNotConfigured = errors.New("blob storage engine is not configured")

	// ErrContainerNotFound matches ContainerNotFoundError with errors.Is.
	ErrContainerNotFound = errors.New("container not found")
)

var (
	errMissingContainer        = errors.New("missing required parameter: Azure container name")
	errMissingConnectionString = errors.New("missing required parameter for connection string auth: Azure blob storage connection string")
	errMissingAccountName      = errors.New("missing required parameter: Azure storage account name")
	errMissingSASToken         = errors.New("missing required parameter for SAS token auth: SAS token value")
	errMissingAccessKey        = errors.New("missing required parameter for account name/key auth: Azure blob storage access key")
	errNoAuthentication        = errors.New("no authentication information found, check options or environment file")
)

// ConfigError collects every configuration problem found while building an Engine.
type ConfigError struct {
	Problems []error
}

func (e *ConfigError) add(err error) {
	e.Problems = append(e.Problems, err)
}

// Summary is the pluralized headline, e.g. "There are 2 missing required parameters."
func (e *ConfigError) Summary() string {
	if len(e.Problems) == 1 {
		return "There is 1 missing required parameter."
	}
	return fmt.Sprintf("There are %d missing required parameters.", len(e.Problems))
}

func (e *ConfigError) Error() string {
	items := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		items = append(items, p.Error())
	}
	return e.Summary() + " " + strings.Join(items, "; ")
}

func (e *ConfigError) Unwrap() []error {
	return e.Problems
}

// ContainerNotFoundError is reported when a removal targets a container that does not exist.
type ContainerNotFoundError struct {
	Container string
}

func (e *ContainerNotFoundError) Error() string {
	return fmt.Sprintf("container %s does not exist on this account, check options", e.Container)
}

func (e *ContainerNotFoundError) Is(target error) bool {
	return target == ErrContainerNotFound
}
