package resources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	kerr "github.com/hyperjump/kagami/pkg/errors"
)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// newClient builds the retrying HTTP client. The transport also serves
// file:// URLs so a local directory can stand in for the CDN.
func newClient(retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil // the loader logs outcomes itself
	if tr, ok := client.HTTPClient.Transport.(*http.Transport); ok {
		tr.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	}
	return client
}

// get issues a GET bounded by timeout and returns the response when it is 2xx.
// The caller closes the body and must call the returned cancel func.
func (l *Loader) get(ctx context.Context, url string, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, nil, kerr.Wrap(err, kerr.CodeResourceFetchFailure, "failed to create request",
			kerr.Field("url", url))
	}
	resp, err := l.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, kerr.Wrap(err, kerr.CodeResourceFetchFailure, "request failed",
			kerr.Field("url", url))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		cancel()
		return nil, nil, kerr.New(kerr.CodeResourceFetchFailure,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)),
			kerr.Field("url", url), kerr.Field("status", resp.StatusCode))
	}
	return resp, cancel, nil
}

// fetchBytes downloads url fully into memory.
func (l *Loader) fetchBytes(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	resp, cancel, err := l.get(ctx, url, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeResourceFetchFailure, "failed to read response body",
			kerr.Field("url", url))
	}
	return data, nil
}

// fetchToFile streams url into a new scratch file and returns its path and size.
// The caller removes the file; on error nothing is left behind.
func (l *Loader) fetchToFile(ctx context.Context, url string, timeout time.Duration) (string, int64, error) {
	resp, cancel, err := l.get(ctx, url, timeout)
	if err != nil {
		return "", 0, err
	}
	defer cancel()
	defer resp.Body.Close()

	f, err := os.CreateTemp(l.cfg.ScratchDir, scratchPattern)
	if err != nil {
		return "", 0, kerr.Wrap(err, kerr.CodeResourceFetchFailure, "failed to create scratch file")
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(f.Name())
		cause := copyErr
		if cause == nil {
			cause = closeErr
		}
		return "", 0, kerr.Wrap(cause, kerr.CodeResourceFetchFailure, "failed to download index",
			kerr.Field("url", url))
	}
	return f.Name(), n, nil
}
