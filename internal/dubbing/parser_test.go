package dubbing

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTranscript_FencedJSON(t *testing.T) {
	raw := "```json\n{\"segments\": [{\"start\": 1.0, \"end\": 2.5, \"original_text\": \"Hello\", \"translated_text\": \"Hola\", \"emotion\": \"Happy\"}]}\n```"

	segs, err := ParseTranscript(raw)
	if err != nil {
		t.Fatalf("ParseTranscript failed: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	want := Segment{Start: 1.0, End: 2.5, OriginalText: "Hello", TranslatedText: "Hola", Emotion: "happy"}
	if segs[0] != want {
		t.Errorf("expected %+v, got %+v", want, segs[0])
	}
}

func TestParseTranscript_Repairs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{
			name: "trailing commas",
			raw:  `{"segments": [{"start": 0, "end": 1, "translated_text": "uno",},]}`,
			want: 1,
		},
		{
			name: "python literals and single quotes",
			raw:  `{'segments': [{'start': 0.5, 'end': 1.5, 'translated_text': 'it\'s fine', 'emotion': None, 'flag': True}]}`,
			want: 1,
		},
		{
			name: "raw newline inside string",
			raw:  "{\"segments\": [{\"start\": 0, \"end\": 2, \"translated_text\": \"line one\nline two\"}]}",
			want: 1,
		},
		{
			name: "prose around the object",
			raw:  "Sure! Here is the transcript:\n{\"segments\": [{\"start\": 3, \"end\": 4, \"translated_text\": \"ok\"}]}\nLet me know if you need more.",
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := ParseTranscript(tt.raw)
			if err != nil {
				t.Fatalf("ParseTranscript failed: %v", err)
			}
			if len(segs) != tt.want {
				t.Errorf("expected %d segments, got %d", tt.want, len(segs))
			}
		})
	}
}

func TestParseTranscript_RepairPreservesText(t *testing.T) {
	segs, err := ParseTranscript(`{'segments': [{'start': 0, 'end': 1, 'translated_text': 'it\'s "quoted"'}]}`)
	if err != nil {
		t.Fatalf("ParseTranscript failed: %v", err)
	}
	if segs[0].TranslatedText != `it's "quoted"` {
		t.Errorf("unexpected text %q", segs[0].TranslatedText)
	}
}

func TestParseTranscript_Irreparable(t *testing.T) {
	raw := `{"segments": [{"start": 0, "end": 1, "translated_text": "x"} {"start":`

	_, err := ParseTranscript(raw)
	if !errors.Is(err, ErrMalformedModelOutput) {
		t.Fatalf("expected ErrMalformedModelOutput, got %v", err)
	}
	if Diagnostic(err) != raw {
		t.Errorf("expected raw text in diagnostic, got %q", Diagnostic(err))
	}
}

func TestParseTranscript_ModelErrorObject(t *testing.T) {
	_, err := ParseTranscript(`{"error": "video could not be processed"}`)
	if !errors.Is(err, ErrMalformedModelOutput) {
		t.Fatalf("expected ErrMalformedModelOutput, got %v", err)
	}
}

func TestParseTranscript_EmptySegments(t *testing.T) {
	for _, raw := range []string{`{"segments": []}`, `{}`, `[]`} {
		segs, err := ParseTranscript(raw)
		if err != nil {
			t.Fatalf("ParseTranscript(%q) failed: %v", raw, err)
		}
		if len(segs) != 0 {
			t.Errorf("expected no segments for %q, got %d", raw, len(segs))
		}
	}
}

func TestParseTranscript_DropsInvalidSegments(t *testing.T) {
	raw := `{"segments": [
		{"start": 2, "end": 1, "translated_text": "backwards"},
		{"start": -1, "end": 1, "translated_text": "negative"},
		{"end": 3, "translated_text": "no start"},
		{"start": 1, "end": 2, "translated_text": "   "},
		{"start": "00:01.5", "end": "2.75", "translated_text": "clock strings"},
		{"start": 5, "end": 6, "translated_text": "overlap is fine"},
		{"start": 5.5, "end": 7, "translated_text": "still fine"}
	]}`

	segs, err := ParseTranscript(raw)
	if err != nil {
		t.Fatalf("ParseTranscript failed: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Start != 1.5 || segs[0].End != 2.75 {
		t.Errorf("expected clock strings to parse, got %+v", segs[0])
	}
}

func TestRepairJSON_IsPure(t *testing.T) {
	in := `{"a": [1, 2,], "b": False, "c": "x",}`
	first := RepairJSON(in)
	if first != RepairJSON(in) {
		t.Fatal("expected RepairJSON to be deterministic")
	}

	var v map[string]interface{}
	if err := json.Unmarshal([]byte(first), &v); err != nil {
		t.Fatalf("repaired output is not valid JSON: %v (%s)", err, first)
	}
	if v["b"] != false {
		t.Errorf("expected b=false, got %v", v["b"])
	}
}

func TestRepairJSON_LeavesValidJSONAlone(t *testing.T) {
	in := `{"text": "None of this, True or False, changes", "n": 1.5e3}`
	if got := RepairJSON(in); got != in {
		t.Errorf("expected valid JSON unchanged, got %s", got)
	}
}
