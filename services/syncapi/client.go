package syncsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/offline"
	"github.com/trezcool/maendeleo/core/progress"
)

const bulkEndpoint = "/v1/progress/bulk"

type (
	// wireUpdate mirrors the domain event payload the server needs to
	// upsert progress rows; the client-generated update id lets the
	// server deduplicate at-least-once redeliveries.
	wireUpdate struct {
		ID     string         `json:"id"`
		Update progress.Event `json:"update"`
	}

	bulkRequest struct {
		Updates []wireUpdate `json:"updates"`
	}

	// Client talks to the platform's bulk progress endpoint.
	Client struct {
		baseURL string
		http    *http.Client
		conf    *core.Config
		logger  core.Logger
	}
)

var _ offline.BulkClient = (*Client)(nil)

func NewClient(conf *core.Config, logger core.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.Sync.BaseURL, "/"),
		http:    &http.Client{Timeout: conf.Sync.RequestTimeout},
		conf:    conf,
		logger:  logger,
	}
}

// SendUpdates posts a batch to the bulk endpoint. Any 2xx status is
// success; every other outcome is a batch failure.
func (c *Client) SendUpdates(ctx context.Context, updates []offline.QueuedUpdate) error {
	wire := make([]wireUpdate, 0, len(updates))
	for _, item := range updates {
		wire = append(wire, wireUpdate{ID: item.ID, Update: item.Update})
	}
	body, err := json.Marshal(bulkRequest{Updates: wire})
	if err != nil {
		return errors.Wrap(err, "encoding bulk request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+bulkEndpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building bulk request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.sessionToken()
	if err != nil {
		return errors.Wrap(err, "signing session token")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting bulk request")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return errors.Errorf("bulk sync rejected: %s", res.Status)
	}
	return nil
}

// sessionToken mints a short-lived learner session JWT for the request.
func (c *Client) sessionToken() (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Issuer:    c.conf.AppName,
		Subject:   c.conf.Learner.ID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.conf.Sync.TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(c.conf.SecretKey))
	if err != nil {
		return "", fmt.Errorf("signing token: %v", err)
	}
	return ss, nil
}
