// Package modelserver provides an HTTP client for a speech model server
// that hosts ASR, diarization, voice activity and enhancement models.
package modelserver

// TranscriptSegment is a timed piece of transcript, in seconds.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscribeResult is the response of the /transcribe endpoint. Models
// that do not produce timings leave Segments empty and fill Utterances or
// Text.
type TranscribeResult struct {
	Text       string              `json:"text"`
	Segments   []TranscriptSegment `json:"segments"`
	Utterances []string            `json:"utterances"`
	Language   string              `json:"language"`
}

// SpeakerSegment is one diarized turn, in seconds.
type SpeakerSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}

// DiarizeResult is the response of the /diarize endpoint.
type DiarizeResult struct {
	Segments []SpeakerSegment `json:"segments"`
}

// VADResult is the response of the /vad endpoint: per-frame speech
// probabilities or decisions.
type VADResult struct {
	SampleRate    int       `json:"sample_rate"`
	FrameLength   int       `json:"frame_length"`
	Probabilities []float64 `json:"probabilities,omitempty"`
	Decisions     []bool    `json:"decisions,omitempty"`
}

// errorResponse is the JSON body returned with non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}
