package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var errBadRequest = errors.New("bad request")

// validateRunRequest checks the request and returns the instance path inside
// dir. Only plain file names are accepted.
func validateRunRequest(req *runRequest, dir string) (string, error) {
	name := strings.TrimSpace(req.Instance)
	if name == "" {
		return "", fmt.Errorf("instance is required: %w", errBadRequest)
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("instance must be a file name, got %q: %w", req.Instance, errBadRequest)
	}
	if err := req.Search.Validate(); err != nil {
		return "", fmt.Errorf("%v: %w", err, errBadRequest)
	}
	req.Instance = name
	return filepath.Join(dir, name), nil
}
