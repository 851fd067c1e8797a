package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 64 << 10

// StreamRequest describes how to open one vendor stream.
type StreamRequest struct {
	Provider ProviderID
	Client   *http.Client
	// Build returns a fresh request for each attempt.
	Build   func(ctx context.Context) (*http.Request, error)
	Retry   RetryPolicy
	Logger  zerolog.Logger
	Metrics *Metrics
}

// OpenStream sends the request and returns the decoded body of a 200
// response. Non-2xx responses become a *ProviderError built from the body.
// Retryable failures are retried per the policy; nothing is retried once
// the body is returned.
func OpenStream(ctx context.Context, sr StreamRequest) (io.ReadCloser, error) {
	var body io.ReadCloser
	attempt := func() error {
		req, err := sr.Build(ctx)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Accept-Encoding", "gzip, zstd")

		resp, err := sr.Client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return NewNetworkError(sr.Provider.String(), err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			data, _ := ReadErrorBody(resp)
			return ParseErrorResponse(sr.Provider.String(), resp.StatusCode, data)
		}

		decoded, err := DecodeBody(resp)
		if err != nil {
			resp.Body.Close()
			return &InvalidEventDataError{Provider: sr.Provider.String(), Detail: err.Error()}
		}
		body = decoded
		return nil
	}

	notify := func(err error, wait time.Duration) {
		sr.Metrics.observeRetry(sr.Provider.String())
		sr.Logger.Warn().Err(err).Dur("wait", wait).Msg("retrying stream request")
	}

	if err := Retry(ctx, sr.Retry, attempt, notify); err != nil {
		sr.Logger.Error().Err(err).Msg("failed to open stream")
		return nil, err
	}
	return body, nil
}

// ReadErrorBody reads at most 64 KiB of a failed response, decompressing if needed.
func ReadErrorBody(resp *http.Response) ([]byte, error) {
	body, err := DecodeBody(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(body, maxErrorBody))
}

// DecodeBody wraps resp.Body according to its Content-Encoding.
// Closing the result closes the underlying body.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, close: func() error {
			return errors.Join(zr.Close(), resp.Body.Close())
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		return &decodedBody{Reader: zr, close: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

type decodedBody struct {
	io.Reader
	close func() error
}

func (d *decodedBody) Close() error { return d.close() }
