package config

import (
	"flag"
	"net/url"
	"strings"
)

type Cli struct {
	HTTPAddress      string
	APIToken         string
	StorageDir       string
	BlobStoreURL     string
	PublicBucketBase *url.URL
	SignerURL        string
	SignerIdentity   string

	SegmentationURL string
	SegmentationKey string
	GenerativeURL   string
	GenerativeKey   string
	TTSURL          string
	TTSKey          string
	AnalyzerURL     string
	AnalyzerKey     string

	VoiceMale   string
	VoiceFemale string

	CORSAllowedOrigins []string
	MaxVideoSeconds    int
	ChunkSeconds       float64
	CleanupPriorJobs   bool
}

// HasBlobStore reports whether a blob store was configured; without one the
// service still works but jobs are not recoverable across restarts.
func (c *Cli) HasBlobStore() bool {
	return c.BlobStoreURL != ""
}

func parseURL(s string, dest **url.URL) error {
	if s == "" {
		*dest = nil
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}

func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		*dest = strings.Split(s, ",")
		return nil
	})
}
