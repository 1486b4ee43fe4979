package config

import "time"

var Version string

const (
	// Upper bound on a single generative edit poll loop
	GenerativeEditTimeout = 5 * time.Minute

	// Base delay between retries of a rate limited external call
	RateLimitBackoffBase = 15 * time.Second

	// Attempts for rate limited external calls before giving up
	RateLimitMaxRetries = 3

	// Gap below which adjacent profanity matches are merged into one phrase
	ProfanityMergeGap = 0.5

	// Gap below which same-speaker matches are clustered into one dub phrase
	DubClusterGap = 1.0

	// Extra context extracted around a requested clip window
	DefaultClipBuffer = 1.0

	// Payloads larger than this cannot fall back to inline data URIs
	MaxDataURIBytes = 5 * 1024 * 1024
)

// Number of parallel chunk uploads during a generative edit
var ChunkUploadParallelism = 3
