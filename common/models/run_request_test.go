package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunRequestFingerprintIsStableAndDiscriminating(t *testing.T) {
	a := RunRequest{
		SourcePaths: []string{"/a.jpg"},
		TargetPath:  "/t.mp4",
		OutputPath:  "/o.mp4",
		Processors:  []string{"face_swapper", "face_enhancer"},
		Settings:    map[string]interface{}{"resolution": "1080p"},
		JobID:       "job-a",
	}
	b := a
	b.JobID = "job-b" // JobID must not affect the fingerprint

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	require.Equal(t, fa, fb)

	c := a
	c.Settings = map[string]interface{}{"resolution": "720p"}
	fc, err := c.Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, fa, fc)

	d := a
	d.Processors = []string{"face_enhancer", "face_swapper"} // order matters
	fd, err := d.Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, fa, fd)
}

func TestRunRequestToConfig(t *testing.T) {
	req := RunRequest{
		SourcePaths: []string{"/a.jpg"},
		TargetPath:  "/t.mp4",
		OutputPath:  "/o.mp4",
		Processors:  []string{"face_swapper"},
		Settings:    map[string]interface{}{"resolution": "1080p"},
	}
	config := req.ToConfig()
	require.Equal(t, "/t.mp4", config["target_path"])
	require.Equal(t, "/o.mp4", config["output_path"])
	require.Equal(t, []string{"face_swapper"}, config["processors"])
	require.Equal(t, "1080p", config["resolution"])
}

func TestGenerateJobIDDefaultsPrefix(t *testing.T) {
	id, err := GenerateJobID("")
	require.NoError(t, err)
	require.Contains(t, id, DefaultJobIDPrefix)
}
