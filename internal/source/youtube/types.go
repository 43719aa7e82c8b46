package youtube

import (
	"strconv"
	"strings"
)

// PlayerResponse is the subset of the InnerTube player response we read.
type PlayerResponse struct {
	PlayabilityStatus PlayabilityStatus `json:"playabilityStatus"`
	VideoDetails      VideoDetails      `json:"videoDetails"`
	StreamingData     StreamingData     `json:"streamingData"`
}

// PlayabilityStatus reports whether the video can be played at all.
type PlayabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// VideoDetails carries descriptive metadata.
type VideoDetails struct {
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	LengthSeconds string `json:"lengthSeconds"`
	IsLive        bool   `json:"isLive"`
	IsLiveContent bool   `json:"isLiveContent"`
}

// Length returns the video length in seconds, or 0 when unknown.
func (v VideoDetails) Length() int {
	n, err := strconv.Atoi(v.LengthSeconds)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// StreamingData lists the available formats.
type StreamingData struct {
	Formats         []Format `json:"formats"`
	AdaptiveFormats []Format `json:"adaptiveFormats"`
	HLSManifestURL  string   `json:"hlsManifestUrl,omitempty"`
}

// Format is one downloadable stream.
type Format struct {
	Itag           int    `json:"itag"`
	URL            string `json:"url"`
	MimeType       string `json:"mimeType"`
	Bitrate        int    `json:"bitrate"`
	AverageBitrate int    `json:"averageBitrate"`
	AudioQuality   string `json:"audioQuality,omitempty"`
	ContentLength  string `json:"contentLength,omitempty"`
	// SignatureCipher is set instead of URL for protected streams, which we
	// cannot use without deciphering.
	SignatureCipher string `json:"signatureCipher,omitempty"`
}

// AudioOnly reports whether the format carries audio and no video.
func (f Format) AudioOnly() bool {
	return strings.HasPrefix(f.MimeType, "audio/")
}

// Codecs returns the codecs parameter of the mime type, e.g. "opus" or "mp4a.40.2".
func (f Format) Codecs() string {
	_, params, ok := strings.Cut(f.MimeType, ";")
	if !ok {
		return ""
	}
	_, codecs, ok := strings.Cut(params, "codecs=")
	if !ok {
		return ""
	}
	return strings.Trim(strings.TrimSpace(codecs), `"`)
}

// EffectiveBitrate prefers the average bitrate when present.
func (f Format) EffectiveBitrate() int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}
