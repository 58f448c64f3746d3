// Package remote is the HTTP boundary to the pet server. Every response body
// carries a success flag; any response without success=true is a failure no
// matter the transport status.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PocketPetLabs/petcore/pkg/economy"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 5 * time.Second

	pathConfig      = "/api/device/config"
	pathEconomySync = "/api/device/economy/sync"
	pathGameScore   = "/api/device/game-score"
	pathJobs        = "/api/device/jobs"
	pathJobComplete = "/api/device/job-complete"

	paramDeviceID    = "deviceId"
	paramPairingCode = "pairingCode"

	defaultGameCost   = 100
	defaultGameReward = 15
)

// Errors returned by the client.
var (
	ErrNoIdentity = errors.New("no device identity configured")
	ErrNotFound   = errors.New("device not known to server")
	ErrRejected   = errors.New("server rejected request")
)

// Client talks to the remote authority. Requests block for at most the
// configured timeout; callers gate invocations to moments where blocking is
// acceptable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	lastStatus int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// NewClient builds a Client against baseURL.
func NewClient(baseURL string, logger *zap.Logger, options ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

// LastStatusCode returns the HTTP status of the most recent request
// (0 = connection error). The pairing flow uses 404 to detect an unpaired
// device.
func (client *Client) LastStatusCode() int {
	return client.lastStatus
}

type lookupStrategy struct {
	name  string
	param string
	value string
}

// FetchConfig retrieves the device config. Lookup strategies are tried in
// order: deviceId first (stable across re-pairing), then pairingCode when the
// deviceId is unknown or the server answers 404. A non-404 failure aborts the
// sequence.
func (client *Client) FetchConfig(ctx context.Context, deviceID string, pairingCode string) (DeviceConfig, error) {
	strategies := make([]lookupStrategy, 0, 2)
	if deviceID != "" {
		strategies = append(strategies, lookupStrategy{name: "device_id", param: paramDeviceID, value: deviceID})
	}
	if pairingCode != "" {
		strategies = append(strategies, lookupStrategy{name: "pairing_code", param: paramPairingCode, value: pairingCode})
	}
	if len(strategies) == 0 {
		return DeviceConfig{}, ErrNoIdentity
	}

	for _, strategy := range strategies {
		var envelope struct {
			Success bool         `json:"success"`
			Config  DeviceConfig `json:"config"`
		}
		err := client.getJSON(ctx, pathConfig, url.Values{strategy.param: {strategy.value}}, &envelope)
		if err != nil {
			if client.lastStatus == http.StatusNotFound {
				client.logger.Debug("config lookup miss",
					zap.String("strategy", strategy.name))
				continue
			}
			return DeviceConfig{}, err
		}
		if !envelope.Success {
			return DeviceConfig{}, ErrRejected
		}
		config := envelope.Config
		if config.GameCost <= 0 {
			config.GameCost = defaultGameCost
		}
		if config.GameReward <= 0 {
			config.GameReward = defaultGameReward
		}
		return config, nil
	}
	return DeviceConfig{}, ErrNotFound
}

// SyncSpend posts one pending spend. The body carries the idempotency id so
// a retried request is deduplicated server-side.
func (client *Client) SyncSpend(ctx context.Context, deviceID string, spend economy.PendingSpend) (SpendAck, error) {
	if deviceID == "" {
		return SpendAck{}, ErrNoIdentity
	}
	request := struct {
		SpendID   string `json:"spendId"`
		Timestamp int64  `json:"timestamp"`
		Amount    int64  `json:"amount"`
		Action    string `json:"action"`
	}{
		SpendID:   spend.ID,
		Timestamp: spend.TimestampMS,
		Amount:    spend.Amount,
		Action:    spend.Category,
	}
	var envelope struct {
		Success bool `json:"success"`
		SpendAck
	}
	err := client.postJSON(ctx, pathEconomySync, url.Values{paramDeviceID: {deviceID}}, request, &envelope)
	if err != nil {
		return SpendAck{}, err
	}
	if !envelope.Success {
		return SpendAck{}, ErrRejected
	}
	return envelope.SpendAck, nil
}

// SubmitScore posts one game score.
//
// The wire format is fixed by the server: the body is only {score}, without
// the local record's id and timestamp, so the server cannot deduplicate a
// retried submission whose first response was dropped. The local record
// keeps both fields so a future endpoint revision needs no storage change.
func (client *Client) SubmitScore(ctx context.Context, deviceID string, score int64) (ScoreAck, error) {
	if deviceID == "" {
		return ScoreAck{}, ErrNoIdentity
	}
	request := struct {
		Score int64 `json:"score"`
	}{Score: score}
	var envelope struct {
		Success bool `json:"success"`
		ScoreAck
	}
	err := client.postJSON(ctx, pathGameScore, url.Values{paramDeviceID: {deviceID}}, request, &envelope)
	if err != nil {
		return ScoreAck{}, err
	}
	if !envelope.Success {
		return ScoreAck{}, ErrRejected
	}
	return envelope.ScoreAck, nil
}

// FetchJobs lists open jobs from the user's groups.
func (client *Client) FetchJobs(ctx context.Context, deviceID string) ([]Job, error) {
	if deviceID == "" {
		return nil, ErrNoIdentity
	}
	var envelope struct {
		Success bool  `json:"success"`
		Jobs    []Job `json:"jobs"`
	}
	err := client.getJSON(ctx, pathJobs, url.Values{paramDeviceID: {deviceID}}, &envelope)
	if err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, ErrRejected
	}
	return envelope.Jobs, nil
}

// MarkJobComplete reports a job as finished by this device's user.
func (client *Client) MarkJobComplete(ctx context.Context, deviceID string, jobID string) error {
	if deviceID == "" {
		return ErrNoIdentity
	}
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", ErrRejected)
	}
	request := struct {
		JobID string `json:"jobId"`
	}{JobID: jobID}
	var envelope struct {
		Success bool `json:"success"`
	}
	err := client.postJSON(ctx, pathJobComplete, url.Values{paramDeviceID: {deviceID}}, request, &envelope)
	if err != nil {
		return err
	}
	if !envelope.Success {
		return ErrRejected
	}
	return nil
}

func (client *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.endpoint(path, query), nil)
	if err != nil {
		return err
	}
	return client.do(request, out)
}

func (client *Client) postJSON(ctx context.Context, path string, query url.Values, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint(path, query), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return client.do(request, out)
}

func (client *Client) do(request *http.Request, out any) error {
	client.lastStatus = 0
	response, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()
	client.lastStatus = response.StatusCode
	if response.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))
		return fmt.Errorf("%w: http %d", ErrRejected, response.StatusCode)
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrRejected, err)
	}
	return nil
}

func (client *Client) endpoint(path string, query url.Values) string {
	return client.baseURL + path + "?" + query.Encode()
}
