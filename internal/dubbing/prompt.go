package dubbing

import "strings"

const transcriptionPromptTemplate = `You are a professional dubbing assistant.

Watch the attached video and transcribe every line of spoken dialogue.
For each line, translate it into {{target_language}} so that it sounds natural when spoken aloud
and fits roughly the same duration as the original line.

Also label the speaker's emotion for each line with one word
(for example: neutral, happy, sad, angry, excited, surprised, fearful, calm).

Return ONLY a JSON object, without markdown fences or commentary, in exactly this shape:
{
  "segments": [
    {
      "start": <start time in seconds, number>,
      "end": <end time in seconds, number>,
      "original_text": "<what was said>",
      "translated_text": "<translation in {{target_language}}>",
      "emotion": "<emotion>"
    }
  ]
}

Timestamps must be accurate to a tenth of a second and segments must be in chronological order.
If the video contains no speech, return {"segments": []}.`

// BuildPrompt renders the transcription prompt for a target language.
func BuildPrompt(targetLanguage string) string {
	return strings.ReplaceAll(transcriptionPromptTemplate, "{{target_language}}", strings.TrimSpace(targetLanguage))
}
