package transcode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Fixed normalization targets.
const (
	TargetIntegrated = -23.0 // LUFS
	TargetTruePeak   = -1.0  // dBTP
)

// Loudness holds the statistics reported by a loudnorm measurement pass.
type Loudness struct {
	InputI       float64
	InputLRA     float64
	InputTP      float64
	InputThresh  float64
	TargetOffset float64
}

// loudnormReport mirrors loudnorm's print_format=json output, which encodes
// every number as a string.
type loudnormReport struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	TargetOffset string `json:"target_offset"`
}

var errNoReport = errors.New("no loudnorm report in ffmpeg output")

// ParseLoudness extracts the last JSON object from ffmpeg's stderr.
// Silent input yields -inf values, which are reported as an error so the
// caller can fall back to single-pass normalization.
func ParseLoudness(stderr []byte) (Loudness, error) {
	end := bytes.LastIndexByte(stderr, '}')
	if end < 0 {
		return Loudness{}, errNoReport
	}
	start := bytes.LastIndexByte(stderr[:end], '{')
	if start < 0 {
		return Loudness{}, errNoReport
	}

	var r loudnormReport
	if err := json.Unmarshal(stderr[start:end+1], &r); err != nil {
		return Loudness{}, fmt.Errorf("decode loudnorm report: %w", err)
	}

	var l Loudness
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"input_i", r.InputI, &l.InputI},
		{"input_lra", r.InputLRA, &l.InputLRA},
		{"input_tp", r.InputTP, &l.InputTP},
		{"input_thresh", r.InputThresh, &l.InputThresh},
		{"target_offset", r.TargetOffset, &l.TargetOffset},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return Loudness{}, fmt.Errorf("loudnorm %s: unusable value %q", f.name, f.raw)
		}
		*f.dst = v
	}
	return l, nil
}

// measureFilter is the analysis-only loudnorm filter.
func measureFilter(lra float64) string {
	return fmt.Sprintf("loudnorm=I=%.1f:LRA=%.1f:TP=%.1f:print_format=json",
		TargetIntegrated, lra, TargetTruePeak)
}

// normalizeFilter is the second-pass filter. Without measurements it falls
// back to loudnorm's dynamic single-pass mode.
func normalizeFilter(lra float64, m *Loudness) string {
	if m == nil {
		return fmt.Sprintf("loudnorm=I=%.1f:LRA=%.1f:TP=%.1f",
			TargetIntegrated, lra, TargetTruePeak)
	}
	return fmt.Sprintf(
		"loudnorm=I=%.1f:LRA=%.1f:TP=%.1f:measured_I=%.2f:measured_LRA=%.2f:measured_TP=%.2f:measured_thresh=%.2f:offset=%.2f:linear=true",
		TargetIntegrated, lra, TargetTruePeak,
		m.InputI, m.InputLRA, m.InputTP, m.InputThresh, m.TargetOffset,
	)
}
