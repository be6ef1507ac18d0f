package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/motemen/go-loghttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TokenSource yields the bearer credential for backend calls. It is asked
// on every request; implementations decide whether anything is cached.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

type ErrorKind int

const (
	KindToken ErrorKind = iota + 1
	KindTransport
	KindStatus
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	}
	return "unknown"
}

// RequestError describes a failed backend call.
type RequestError struct {
	Kind   ErrorKind
	Method string
	Path   string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// errorKind reports the kind of a RequestError anywhere in err's chain, or 0.
func errorKind(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return 0
}

type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &loghttp.Transport{
				Transport:   http.DefaultTransport,
				LogRequest:  logAPIRequest,
				LogResponse: logAPIResponse,
			},
		},
	}
}

func logAPIRequest(req *http.Request) {
	log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("request_id", req.Header.Get("X-Request-Id")).
		Msg("api request")
}

func logAPIResponse(resp *http.Response) {
	event := log.Debug().Int("status", resp.StatusCode)
	if resp.Request != nil {
		event = event.
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL.String())
	}
	event.Msg("api response")
}

// Do sends a JSON request to baseURL+path. body is encoded when non-nil and
// the response is decoded into out when out is non-nil and the body is not
// empty.
func (c *APIClient) Do(ctx context.Context, tokens TokenSource, method, path string, body, out any) error {
	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return &RequestError{Kind: KindToken, Method: method, Path: path, Err: errors.Wrap(err, "getting access token")}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encoding %s %s body", method, path)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Kind: KindTransport, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Kind: KindTransport, Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Kind: KindStatus, Method: method, Path: path, Status: resp.StatusCode}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RequestError{Kind: KindDecode, Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}
	return nil
}
