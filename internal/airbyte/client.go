// Package airbyte is a minimal client for the Airbyte management API,
// covering only the surface the exporter polls: the application token
// grant and the connection, job run, source and destination listings.
package airbyte

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airmonio/airmon/internal/export"
)

// Connection statuses as reported by the upstream API.
const (
	ConnectionActive     = "active"
	ConnectionInactive   = "inactive"
	ConnectionDeprecated = "deprecated"
)

// ConnectionStatuses lists all known connection status values in a
// fixed order, used for 0/1 indicator samples.
var ConnectionStatuses = []string{
	ConnectionActive,
	ConnectionInactive,
	ConnectionDeprecated,
}

// Job run statuses as reported by the upstream API.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// JobStatuses lists all known job run status values in a fixed order.
var JobStatuses = []string{
	JobPending,
	JobRunning,
	JobSucceeded,
	JobFailed,
	JobCancelled,
}

// Connection is one configured data-sync pipeline.
type Connection struct {
	ID            string `json:"connectionId"`
	Name          string `json:"name"`
	SourceID      string `json:"sourceId"`
	DestinationID string `json:"destinationId"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`

	Schedule struct {
		ScheduleType string `json:"scheduleType"`
	} `json:"schedule"`

	Configurations struct {
		Streams []ConnectionStream `json:"streams"`
	} `json:"configurations"`
}

// ConnectionStream is one stream configured on a connection. Only the
// count matters to the exporter, the name is kept for logging.
type ConnectionStream struct {
	Name string `json:"name"`
}

// Source is a configured data source.
type Source struct {
	ID         string `json:"sourceId"`
	Name       string `json:"name"`
	SourceType string `json:"sourceType"`
}

// Destination is a configured data destination.
type Destination struct {
	ID              string `json:"destinationId"`
	Name            string `json:"name"`
	DestinationType string `json:"destinationType"`
}

// JobRun is one execution of a Connection. Timestamps are kept as the
// upstream RFC 3339 strings; the mapper parses and validates them so a
// malformed record is skipped rather than aborting the poll.
type JobRun struct {
	ID            int64  `json:"jobId"`
	ConnectionID  string `json:"connectionId"`
	JobType       string `json:"jobType"`
	Status        string `json:"status"`
	BytesSynced   int64  `json:"bytesSynced"`
	RecordsSynced int64  `json:"rowsSynced"`
	StartedAt     string `json:"startTime"`
	EndedAt       string `json:"lastUpdatedAt"`
}

// Client defines the interface for listing upstream state.
type Client interface {
	// ListConnections retrieves all configured connections,
	// following pagination.
	ListConnections(ctx context.Context) ([]Connection, error)
	// ListJobRuns retrieves job runs for one connection updated at
	// or after since, following pagination.
	ListJobRuns(
		ctx context.Context,
		connectionID string,
		since time.Time,
	) ([]JobRun, error)
	// ListSources retrieves all configured sources, following
	// pagination.
	ListSources(ctx context.Context) ([]Source, error)
	// ListDestinations retrieves all configured destinations,
	// following pagination.
	ListDestinations(ctx context.Context) ([]Destination, error)
}

type client struct {
	log    logrus.FieldLogger
	cfg    Config
	http   *http.Client
	tokens TokenSource
	health *export.Metrics
}

// NewClient creates a new Airbyte API client. health may be nil.
func NewClient(
	log logrus.FieldLogger,
	cfg Config,
	tokens TokenSource,
	health *export.Metrics,
) Client {
	cfg.ApplyDefaults()

	return &client{
		log:    log.WithField("component", "airbyte"),
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		health: health,
	}
}

// listPage is the envelope every list endpoint returns. Records are
// kept raw so one malformed record does not fail the whole page.
type listPage struct {
	Data     []json.RawMessage `json:"data"`
	Next     string            `json:"next"`
	Previous string            `json:"previous"`
}

func (c *client) ListConnections(
	ctx context.Context,
) ([]Connection, error) {
	conns := make([]Connection, 0, c.cfg.PageSize)

	err := c.paginate(ctx, "/connections", url.Values{}, func(raw json.RawMessage) {
		var conn Connection
		if err := json.Unmarshal(raw, &conn); err != nil {
			// Passed through as a zero value so the mapper
			// counts it as skipped instead of losing it silently.
			c.log.WithError(err).Debug("Malformed connection record")

			conns = append(conns, Connection{})

			return
		}

		conns = append(conns, conn)
	})
	if err != nil {
		return nil, err
	}

	return conns, nil
}

func (c *client) ListJobRuns(
	ctx context.Context,
	connectionID string,
	since time.Time,
) ([]JobRun, error) {
	query := url.Values{
		"connectionId":   {connectionID},
		"updatedAtStart": {since.UTC().Format(time.RFC3339)},
	}

	runs := make([]JobRun, 0, c.cfg.PageSize)

	err := c.paginate(ctx, "/jobs", query, func(raw json.RawMessage) {
		var run JobRun
		if err := json.Unmarshal(raw, &run); err != nil {
			c.log.WithError(err).Debug("Malformed job record")

			runs = append(runs, JobRun{})

			return
		}

		runs = append(runs, run)
	})
	if err != nil {
		return nil, err
	}

	return runs, nil
}

func (c *client) ListSources(ctx context.Context) ([]Source, error) {
	sources := make([]Source, 0, c.cfg.PageSize)

	err := c.paginate(ctx, "/sources", url.Values{}, func(raw json.RawMessage) {
		var src Source
		if err := json.Unmarshal(raw, &src); err != nil {
			c.log.WithError(err).Debug("Malformed source record")

			sources = append(sources, Source{})

			return
		}

		sources = append(sources, src)
	})
	if err != nil {
		return nil, err
	}

	return sources, nil
}

func (c *client) ListDestinations(ctx context.Context) ([]Destination, error) {
	dests := make([]Destination, 0, c.cfg.PageSize)

	err := c.paginate(ctx, "/destinations", url.Values{}, func(raw json.RawMessage) {
		var dst Destination
		if err := json.Unmarshal(raw, &dst); err != nil {
			c.log.WithError(err).Debug("Malformed destination record")

			dests = append(dests, Destination{})

			return
		}

		dests = append(dests, dst)
	})
	if err != nil {
		return nil, err
	}

	return dests, nil
}

// paginate fetches pages from path until the upstream stops signalling
// a next page or MaxPages is reached, invoking collect per record.
func (c *client) paginate(
	ctx context.Context,
	path string,
	query url.Values,
	collect func(json.RawMessage),
) error {
	offset := 0

	for page := 0; page < c.cfg.MaxPages; page++ {
		query.Set("limit", strconv.Itoa(c.cfg.PageSize))
		query.Set("offset", strconv.Itoa(offset))

		var pg listPage
		if err := c.getJSON(ctx, path, query, &pg); err != nil {
			return err
		}

		for _, raw := range pg.Data {
			collect(raw)
		}

		if pg.Next == "" || len(pg.Data) == 0 {
			return nil
		}

		offset += len(pg.Data)
	}

	c.log.WithFields(logrus.Fields{
		"path":  path,
		"pages": c.cfg.MaxPages,
	}).Warn("Page cap reached, returning partial results")

	return nil
}

// getJSON performs an authenticated GET with bounded retry. A 401
// discards the cached token and retries exactly once with a fresh one;
// rate limits, 5xx responses and network errors retry per the policy.
func (c *client) getJSON(
	ctx context.Context,
	path string,
	query url.Values,
	target any,
) error {
	var (
		lastStatus int
		lastBody   string
		lastErr    error
	)

	authRetried := false

	for attempt := 0; attempt < c.cfg.Retry.MaxAttempts; {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		status, body, err := c.do(ctx, path, query, token, target)

		switch {
		case err == nil:
			return nil

		case status == http.StatusUnauthorized && !authRetried:
			authRetried = true

			c.tokens.Invalidate()
			c.log.Debug("Token rejected, refreshing and retrying once")

			// Does not consume a retry attempt.
			continue

		case status == http.StatusTooManyRequests ||
			status >= http.StatusInternalServerError ||
			status == 0:
			lastStatus, lastBody, lastErr = status, body, err
			attempt++

			if attempt >= c.cfg.Retry.MaxAttempts {
				break
			}

			delay := c.cfg.Retry.Delay(attempt - 1)

			c.log.WithFields(logrus.Fields{
				"path":    path,
				"status":  status,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Transient upstream failure, backing off")

			select {
			case <-ctx.Done():
				return &APIError{Endpoint: path, Err: ctx.Err()}
			case <-time.After(delay):
			}

		default:
			return &APIError{
				Endpoint: path,
				Status:   status,
				Body:     body,
				Err:      err,
			}
		}
	}

	return &APIError{
		Endpoint: path,
		Status:   lastStatus,
		Body:     lastBody,
		Err:      lastErr,
	}
}

// do executes a single request. It returns the response status (0 on
// network failure) alongside any error; on success target holds the
// decoded body.
func (c *client) do(
	ctx context.Context,
	path string,
	query url.Values,
	token string,
	target any,
) (int, string, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request for %s: %w", path, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(path, 0)

		return 0, "", fmt.Errorf("executing request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.observe(path, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return resp.StatusCode, string(body), fmt.Errorf(
			"unexpected status %d from %s",
			resp.StatusCode, path,
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return resp.StatusCode, "", fmt.Errorf(
			"decoding response from %s: %w", path, err,
		)
	}

	return resp.StatusCode, "", nil
}

func (c *client) observe(path string, status int) {
	if c.health == nil {
		return
	}

	c.health.UpstreamRequests.
		WithLabelValues(path, strconv.Itoa(status)).
		Inc()
}
