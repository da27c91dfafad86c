package dubbing

// Segment is one timed utterance of the transcript with its translation.
// Start and End are seconds from the beginning of the media.
type Segment struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	OriginalText   string  `json:"original_text"`
	TranslatedText string  `json:"translated_text"`
	Emotion        string  `json:"emotion,omitempty"`
}

// Valid reports whether 0 <= Start < End.
func (s Segment) Valid() bool {
	return s.Start >= 0 && s.Start < s.End
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Clip is a synthesized audio file for one segment. Index is the segment's
// position in the transcript.
type Clip struct {
	Segment Segment
	Index   int
	Path    string
}
