package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/livepeer/go-tools/drivers"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/log"
)

const MaxCopyFileDuration = 30 * time.Minute

var retryableHttpClient = newRetryableHttpClient()

func newRetryableHttpClient() *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 5                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 5 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.Logger = nil
	client.HTTPClient = &http.Client{
		// Give up on requests that take more than this long - the file is probably too big for us to process locally if it takes this long
		// or something else has gone wrong and the request is hanging
		Timeout: MaxCopyFileDuration,
	}

	return client.StandardClient()
}

// GetFile opens a reader for either an object store URL or a plain HTTP URL.
func GetFile(ctx context.Context, jobID, url string) (io.ReadCloser, error) {
	if _, err := drivers.ParseOSURL(url, true); err == nil {
		return downloadOSURL(url)
	}
	return getFileHTTP(ctx, url)
}

func downloadOSURL(osURL string) (io.ReadCloser, error) {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OS URL %q: %w", osURL, err)
	}
	fileInfoReader, err := storageDriver.NewSession("").ReadData(context.Background(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to read from OS URL %q: %w", osURL, err)
	}
	return fileInfoReader.Body, nil
}

func getFileHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, xerrors.Unretriable(fmt.Errorf("error creating http request: %w", err))
	}
	resp, err := retryableHttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error on download request: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		err := fmt.Errorf("bad status code from download request: %d %s", resp.StatusCode, resp.Status)
		if resp.StatusCode < 500 {
			err = xerrors.Unretriable(err)
		}
		return nil, err
	}
	return resp.Body, nil
}

type byteAccumulatorWriter struct {
	count int64
}

func (acc *byteAccumulatorWriter) Write(p []byte) (int, error) {
	acc.count += int64(len(p))
	return len(p), nil
}

// DownloadFile fetches a remote URL to a local path with retries, returning
// the number of bytes written. Unretriable download errors stop the loop
// early.
func DownloadFile(ctx context.Context, jobID, sourceURL, destPath string) (writtenBytes int64, err error) {
	err = backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(ctx, MaxCopyFileDuration)
		defer cancel()

		content, err := GetFile(ctx, jobID, sourceURL)
		if err != nil {
			if xerrors.IsUnretriable(err) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("download error: %w", err)
		}
		defer content.Close()

		f, err := os.Create(destPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create %q: %w", destPath, err))
		}
		defer f.Close()

		acc := byteAccumulatorWriter{}
		if _, err := io.Copy(f, io.TeeReader(content, &acc)); err != nil {
			log.Log(jobID, "download attempt failed", "source", sourceURL, "err", err)
			return err
		}
		writtenBytes = acc.count
		return nil
	}, downloadRetryBackoff())
	return writtenBytes, err
}

func downloadRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 3)
}
