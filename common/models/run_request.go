package models

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/faceforge/orchestrator/common/util"
)

// DefaultJobIDPrefix is used by GenerateJobID when no prefix is supplied by the caller.
const DefaultJobIDPrefix = "job"

// RunRequest is the caller-supplied description of a unit of work to submit to the
// orchestrator.
type RunRequest struct {
	// SourcePaths are reference inputs consumed by the pipeline alongside the target (e.g. the
	// face image(s) a face-swap pipeline reads from).
	SourcePaths []string `json:"source_paths,omitempty"`
	// TargetPath is the primary file the pipeline operates on.
	TargetPath string `json:"target_path"`
	// OutputPath is where the result should be written. Left empty, a caller of /run gets one
	// auto-filled under the system temp directory.
	OutputPath string `json:"output_path,omitempty"`
	// Processors names the ordered list of pipeline stages to run.
	Processors []string `json:"processors,omitempty"`
	// Settings carries pipeline-specific parameters, passed through to the pipeline
	// implementation untouched (resolution, model name, codec, etc).
	Settings map[string]interface{} `json:"settings,omitempty"`
	// JobID, if supplied, is used verbatim instead of generating one.
	JobID string `json:"job_id,omitempty"`
}

// GenerateJobID returns a new job id of the form "<prefix>-<timestamp>-<random suffix>".
// An empty prefix defaults to DefaultJobIDPrefix.
func GenerateJobID(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultJobIDPrefix
	}
	id, err := util.GenerateID(prefix)
	if err != nil {
		return "", fmt.Errorf("error generating job id: %w", err)
	}
	return id, nil
}

// Fingerprint returns a stable content hash of the request's job-defining fields, excluding
// JobID: two requests that would produce the same work hash identically, letting a caller
// detect a resubmission of work that is already drafted, queued, or running.
func (r RunRequest) Fingerprint() (string, error) {
	keyed := struct {
		SourcePaths []string
		TargetPath  string
		OutputPath  string
		Processors  []string
		Settings    map[string]interface{}
	}{r.SourcePaths, r.TargetPath, r.OutputPath, r.Processors, r.Settings}
	hash, err := hashstructure.Hash(keyed, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("error hashing run request: %w", err)
	}
	return strconv.FormatUint(hash, 16), nil
}

// ToConfig flattens the request into the opaque configuration map a pipeline implementation
// receives. Settings are copied first so they can never shadow the named keys the orchestrator
// itself relies on (source_paths, target_path, output_path, processors).
func (r RunRequest) ToConfig() map[string]interface{} {
	config := make(map[string]interface{}, len(r.Settings)+4)
	for k, v := range r.Settings {
		config[k] = v
	}
	config["source_paths"] = r.SourcePaths
	config["target_path"] = r.TargetPath
	config["output_path"] = r.OutputPath
	config["processors"] = r.Processors
	return config
}
