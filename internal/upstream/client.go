package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/pkg/metrics"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxBodySize = 32 << 20

// response is a fully read partner answer
type response struct {
	status int
	body   []byte
}

// Client performs the partner API calls. It retries network failures and
// 5xx answers only; every other status is classified and returned.
type Client struct {
	logger   *zap.Logger
	http     *http.Client
	baseURL  string
	executor failsafe.Executor[*response]
	metrics  *metrics.Metrics
}

// NewClient creates a partner API client
func NewClient(logger *zap.Logger, cfg config.UpstreamConfig, m *metrics.Metrics) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	return &Client{
		logger:   logger.Named("upstream"),
		http:     &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(transport)},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		executor: failsafe.With[*response](newRetryPolicy(cfg)),
		metrics:  m,
	}
}

//nolint:bodyclose // *response carries an already closed body
func newRetryPolicy(cfg config.UpstreamConfig) retrypolicy.RetryPolicy[*response] {
	base := cfg.RetryBaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := max(cfg.RetryMaxDelay, base)
	return retrypolicy.NewBuilder[*response]().
		WithBackoff(base, maxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(max(cfg.MaxRetries, 0)).
		HandleIf(func(res *response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return res != nil && res.status >= http.StatusInternalServerError
		}).
		ReturnLastFailure().
		Build()
}

// CityCouriers fetches one page of the live feed of a city
func (c *Client) CityCouriers(ctx context.Context, token string, city int64, page, size int) (*CourierPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	path := fmt.Sprintf("/v2/cities/%d/couriers?%s", city, q.Encode())

	res, err := c.do(ctx, cnst.EndpointCityCouriers, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(res.body)
	if !doc.IsObject() {
		return nil, errorx.Newf(errorx.KindMalformedRecord, "upstream.city_couriers", "", "page is not an object")
	}
	out := &CourierPage{IsLast: doc.Get("is_last").Bool()}
	out.Content = decodeEach(doc.Get("content"), decodeCourier, func(idx int, err error) {
		out.Skipped++
		c.logger.Warn("skipping malformed courier", zap.Int64("city", city), zap.Int("page", page),
			zap.Int("index", idx), zap.Error(err))
	})
	return out, nil
}

// Roster fetches the full employee directory
func (c *Client) Roster(ctx context.Context, token string) ([]Employee, error) {
	res, err := c.do(ctx, cnst.EndpointRoster, http.MethodGet, "/v2/employees", token, nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(res.body)
	if !doc.IsArray() {
		return nil, errorx.Newf(errorx.KindMalformedRecord, "upstream.roster", "", "roster is not an array")
	}
	return decodeEach(doc, decodeEmployee, func(idx int, err error) {
		c.logger.Warn("skipping malformed employee", zap.Int("index", idx), zap.Error(err))
	}), nil
}

// StartingPoints lists the permitted work locations of a city
func (c *Client) StartingPoints(ctx context.Context, token string, city int64) ([]StartingPoint, error) {
	path := fmt.Sprintf("/v2/cities/%d/starting-points", city)
	res, err := c.do(ctx, cnst.EndpointStartingPoints, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	var points []StartingPoint
	if err := json.Unmarshal(res.body, &points); err != nil {
		return nil, errorx.New(errorx.KindMalformedRecord, "upstream.starting_points", "", err)
	}
	return points, nil
}

// AssignStartingPoints replaces the permitted work locations of a rider. An
// empty set blocks the rider.
func (c *Client) AssignStartingPoints(ctx context.Context, token, employeeID string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	body, err := json.Marshal(map[string][]int64{"starting_point_ids": ids})
	if err != nil {
		return err
	}
	path := "/v2/employees/" + url.PathEscape(employeeID) + "/starting-points"
	_, err = c.do(ctx, cnst.EndpointAssign, http.MethodPut, path, token, body)
	return err
}

func (c *Client) do(ctx context.Context, endpoint, method, path, token string, body []byte) (*response, error) {
	start := time.Now()
	res, err := c.executor.WithContext(ctx).Get(func() (*response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		return &response{status: resp.StatusCode, body: data}, nil
	})

	status := 0
	if res != nil {
		status = res.status
	}
	c.metrics.UpstreamDone(endpoint, start, status)

	op := "upstream." + endpoint
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, errorx.New(errorx.KindUpstreamTimeout, op, "", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errorx.New(errorx.KindUpstreamUnavailable, op, "", err)
	}
	if kind, ok := statusKind(res.status); ok {
		return nil, &StatusError{Endpoint: endpoint, Status: res.status, Body: snippet(res.body),
			Err: errorx.Newf(kind, op, "", "partner answered %d", res.status)}
	}
	return res, nil
}

// StatusError is a classified non-2xx partner answer
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
	Err      *errorx.Error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Body
}

func (e *StatusError) Unwrap() error { return e.Err }

func statusKind(status int) (errorx.Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return errorx.KindUnknown, false
	case status == http.StatusUnauthorized:
		return errorx.KindUpstreamUnauthorized, true
	case status == http.StatusTooManyRequests:
		return errorx.KindUpstreamRateLimited, true
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return errorx.KindUpstreamConflict, true
	case status == http.StatusNotFound:
		return errorx.KindNotFound, true
	default:
		return errorx.KindUpstreamUnavailable, true
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
