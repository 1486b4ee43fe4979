package pipeline

import (
	"strings"

	"github.com/vidmod/vidmod-api/clients"
)

// phrase is one contiguous stretch of speech to censor, possibly merged from
// several adjacent matches.
type phrase struct {
	Start       float64
	End         float64
	Word        string
	Replacement string
	SpeakerID   string
}

// mergePhrases folds matches whose gap is at most gap seconds into single
// phrases, so back-to-back words get one continuous beep instead of a
// stutter. Matches must be sorted by start time.
func mergePhrases(matches []clients.ProfanityMatch, gap float64) []phrase {
	var out []phrase
	for _, m := range matches {
		if n := len(out); n > 0 && m.StartTime-out[n-1].End <= gap {
			prev := &out[n-1]
			if m.EndTime > prev.End {
				prev.End = m.EndTime
			}
			prev.Word = joinWords(prev.Word, m.Word)
			prev.Replacement = joinWords(prev.Replacement, m.Replacement)
			if prev.SpeakerID == "" {
				prev.SpeakerID = m.SpeakerID
			}
			continue
		}
		out = append(out, phrase{
			Start:       m.StartTime,
			End:         m.EndTime,
			Word:        m.Word,
			Replacement: m.Replacement,
			SpeakerID:   m.SpeakerID,
		})
	}
	return out
}

// clusterBySpeaker folds same-speaker phrases within gap seconds of each
// other into one phrase, so a run of close replacements is spoken as a single
// natural utterance.
func clusterBySpeaker(phrases []phrase, gap float64) []phrase {
	var out []phrase
	for _, p := range phrases {
		if n := len(out); n > 0 && out[n-1].SpeakerID == p.SpeakerID && p.Start-out[n-1].End <= gap {
			prev := &out[n-1]
			if p.End > prev.End {
				prev.End = p.End
			}
			prev.Word = joinWords(prev.Word, p.Word)
			prev.Replacement = joinWords(prev.Replacement, p.Replacement)
			continue
		}
		out = append(out, p)
	}
	return out
}

func joinWords(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
