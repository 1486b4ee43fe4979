package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/clients"
)

func TestMergePhrases(t *testing.T) {
	matches := []clients.ProfanityMatch{
		{Word: "damn", StartTime: 1.0, EndTime: 1.4, Replacement: "darn", SpeakerID: "spk_0"},
		{Word: "it", StartTime: 1.6, EndTime: 1.8, Replacement: "it", SpeakerID: "spk_0"},
		{Word: "hell", StartTime: 5.0, EndTime: 5.5, Replacement: "heck", SpeakerID: "spk_1"},
	}

	merged := mergePhrases(matches, 0.5)
	require.Len(t, merged, 2)

	require.Equal(t, 1.0, merged[0].Start)
	require.Equal(t, 1.8, merged[0].End)
	require.Equal(t, "damn it", merged[0].Word)
	require.Equal(t, "darn it", merged[0].Replacement)
	require.Equal(t, "spk_0", merged[0].SpeakerID)

	require.Equal(t, "hell", merged[1].Word)
	require.Equal(t, 5.0, merged[1].Start)
}

func TestMergePhrasesGapBoundary(t *testing.T) {
	matches := []clients.ProfanityMatch{
		{Word: "one", StartTime: 1.0, EndTime: 2.0},
		{Word: "two", StartTime: 2.5, EndTime: 3.0},
		{Word: "three", StartTime: 3.51, EndTime: 4.0},
	}

	// 0.5s gap merges, anything over does not
	merged := mergePhrases(matches, 0.5)
	require.Len(t, merged, 2)
	require.Equal(t, "one two", merged[0].Word)
	require.Equal(t, "three", merged[1].Word)
}

func TestMergePhrasesKeepsEnvelope(t *testing.T) {
	// an overlapping match must not shrink the merged window
	matches := []clients.ProfanityMatch{
		{Word: "long", StartTime: 1.0, EndTime: 3.0},
		{Word: "short", StartTime: 1.5, EndTime: 2.0},
	}
	merged := mergePhrases(matches, 0.5)
	require.Len(t, merged, 1)
	require.Equal(t, 1.0, merged[0].Start)
	require.Equal(t, 3.0, merged[0].End)
}

func TestMergePhrasesEmpty(t *testing.T) {
	require.Empty(t, mergePhrases(nil, 0.5))
}

func TestClusterBySpeaker(t *testing.T) {
	phrases := []phrase{
		{Start: 1.0, End: 1.5, Word: "damn", Replacement: "darn", SpeakerID: "spk_0"},
		{Start: 2.0, End: 2.5, Word: "hell", Replacement: "heck", SpeakerID: "spk_0"},
		{Start: 2.6, End: 3.0, Word: "crap", Replacement: "crud", SpeakerID: "spk_1"},
		{Start: 10.0, End: 10.5, Word: "damn", Replacement: "darn", SpeakerID: "spk_0"},
	}

	clusters := clusterBySpeaker(phrases, 1.0)
	require.Len(t, clusters, 3)

	require.Equal(t, "damn hell", clusters[0].Word)
	require.Equal(t, "darn heck", clusters[0].Replacement)
	require.Equal(t, 1.0, clusters[0].Start)
	require.Equal(t, 2.5, clusters[0].End)

	// different speaker stays separate even inside the gap
	require.Equal(t, "spk_1", clusters[1].SpeakerID)

	// same speaker far away stays separate
	require.Equal(t, 10.0, clusters[2].Start)
}

func TestJoinWords(t *testing.T) {
	require.Equal(t, "a b", joinWords("a", "b"))
	require.Equal(t, "a", joinWords("a", ""))
	require.Equal(t, "b", joinWords("", "b"))
	require.Equal(t, "", joinWords(" ", " "))
}
