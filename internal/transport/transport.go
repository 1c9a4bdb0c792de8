// Package transport wraps HTTP calls with an internally managed timeout and
// a typed error carrying a machine-readable code.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	kaiwaErrors "github.com/kaiwa-cli/kaiwa/internal/errors"
)

// Error codes. CodeTimeout marks an abort triggered by the internal timer;
// everything else at the connection level maps to CodeNetwork.
const (
	CodeTimeout = "ETIMEDOUT"
	CodeNetwork = "ENETWORK"
)

// Error is the typed transport failure. It wraps the underlying error so
// errors.Is/As keep working through it.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is marks every transport failure as transient: connection-level errors and
// induced timeouts may succeed on retry, which is the caller's call to make.
func (e *Error) Is(target error) bool {
	return target == kaiwaErrors.ErrTransient
}

// errInternalTimeout is the cause attached to the internal deadline so it can
// be told apart from a caller-supplied one.
var errInternalTimeout = errors.New("transport: request timeout")

// Client performs HTTP requests. The zero timeout disables the internal
// timer, which streaming callers rely on: http.Client.Timeout would cap
// total stream duration, so only dial/TLS/header timeouts apply there.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// Do performs the request. A positive timeout starts an internal abort timer
// that covers the headers exchange and body reads; the timer is released on
// every exit path (immediately on failure, on body close on success).
// Precedence when both the caller context and the internal timer fire: the
// caller context wins and is propagated untyped; only the internal timer
// produces CodeTimeout.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body io.Reader, timeout time.Duration) (*http.Response, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeoutCause(ctx, timeout, errInternalTimeout)
	}
	release := func() {
		if cancel != nil {
			cancel()
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		release()
		return nil, &Error{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req) //nolint:bodyclose // ownership moves to the caller
	if err != nil {
		defer release()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(context.Cause(reqCtx), errInternalTimeout) {
			c.logger.Debug("request aborted by internal timeout", "url", url, "timeout", timeout)
			return nil, &Error{
				Code:    CodeTimeout,
				Message: fmt.Sprintf("request to %s timed out after %s", url, timeout),
				Err:     err,
			}
		}
		return nil, &Error{Code: CodeNetwork, Message: err.Error(), Err: err}
	}

	if cancel != nil {
		resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: cancel}
	}
	return resp, nil
}

// releaseOnClose ties the internal timer's lifetime to the response body.
type releaseOnClose struct {
	io.ReadCloser
	release context.CancelFunc
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}
