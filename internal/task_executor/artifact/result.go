// Package artifact handles the files stages hand to each other: announced
// artifact paths, report checks and end-of-run archival.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	ResultVersion = 1
	MarkerPrefix  = "ARTIFACT_PATH="
)

var ErrNoArtifact = errors.New("no artifact path announced")

// StageResult is the structured file a script may write to
// $RTMPIPE_RESULT_FILE instead of printing a marker line.
type StageResult struct {
	Version      int               `json:"version"`
	ArtifactPath string            `json:"artifact_path"`
	Outputs      map[string]string `json:"outputs,omitempty"`
}

func (r *StageResult) validate() error {
	if r.Version != ResultVersion {
		return fmt.Errorf("unsupported result version %d", r.Version)
	}
	return nil
}

// ReadResultFile loads and validates a result file. found is false when the
// script did not write one.
func ReadResultFile(path string) (result *StageResult, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var r StageResult
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return nil, true, fmt.Errorf("result file %s: %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, true, fmt.Errorf("result file %s: %w", path, err)
	}
	return &r, true, nil
}

// ParseMarker scans output for ARTIFACT_PATH=<path> lines. The last one wins.
func ParseMarker(output string) (string, bool) {
	var path string
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !strings.HasPrefix(line, MarkerPrefix) {
			continue
		}
		if v := strings.TrimSpace(strings.TrimPrefix(line, MarkerPrefix)); v != "" {
			path = v
		}
	}
	return path, path != ""
}

// ResolveArtifactPath prefers the result file and falls back to the stdout
// marker.
func ResolveArtifactPath(resultFile, stdout string) (string, error) {
	if resultFile != "" {
		r, found, err := ReadResultFile(resultFile)
		if err != nil {
			return "", err
		}
		if found {
			if strings.TrimSpace(r.ArtifactPath) == "" {
				return "", fmt.Errorf("result file %s: artifact_path is empty", resultFile)
			}
			return r.ArtifactPath, nil
		}
	}
	if p, ok := ParseMarker(stdout); ok {
		return p, nil
	}
	return "", ErrNoArtifact
}
