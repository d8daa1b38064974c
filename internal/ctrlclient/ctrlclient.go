// Package ctrlclient implements an HTTP client against a single
// controller instance's /metrics and /role endpoints.
//
// A shared *http.Client carries no default timeout of its own; every
// call is bounded by its caller's context instead, so one slow
// controller can never stall a redistribution round or a tick.
package ctrlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/model"
)

// metricsResponse is the JSON body of GET /metrics.
type metricsResponse struct {
	PacketInCount int64   `json:"packet_in_count"`
	Switches      []int64 `json:"switches"`
}

// roleRequest is the JSON body of POST /role.
type roleRequest struct {
	DPID         int64  `json:"dpid"`
	Role         string `json:"role"`
	GenerationID int64  `json:"generation_id"`
}

// Client polls and posts to controller instances addressed by host:port.
type Client struct {
	log        *zap.Logger
	httpClient *http.Client
}

// New creates a Client. Callers bound FetchPacketInCount and PostRole
// by passing a context with the configured metrics/role-post timeout
// already attached.
func New(log *zap.Logger) *Client {
	return &Client{
		log:        log.Named("ctrlclient"),
		httpClient: &http.Client{},
	}
}

// FetchPacketInCount GETs /metrics on host:apiPort and returns the
// cumulative Packet-In counter. Returns a *model.Unreachable error,
// distinct from a legitimate zero count, if the controller does not
// respond within ctx's deadline.
func (c *Client) FetchPacketInCount(ctx context.Context, id model.ControllerId, host string, apiPort int) (int64, error) {
	url := fmt.Sprintf("http://%s:%d/metrics", host, apiPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &model.Unreachable{ID: id, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &model.Unreachable{ID: id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &model.Unreachable{ID: id, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body metricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, &model.Unreachable{ID: id, Err: err}
	}
	return body.PacketInCount, nil
}

// PostRole POSTs a role change to host:apiPort. Best-effort: failures
// are returned as *model.RoleRejected so the caller can log and
// continue the redistribution round rather than abort it (spec §4.C).
func (c *Client) PostRole(ctx context.Context, id model.ControllerId, host string, apiPort int, sw model.SwitchId, role model.Role, generationID int64) error {
	url := fmt.Sprintf("http://%s:%d/role", host, apiPort)
	payload, err := json.Marshal(roleRequest{
		DPID:         int64(sw),
		Role:         role.String(),
		GenerationID: generationID,
	})
	if err != nil {
		return &model.RoleRejected{ID: id, Sw: sw, Role: role, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &model.RoleRejected{ID: id, Sw: sw, Role: role, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.RoleRejected{ID: id, Sw: sw, Role: role, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &model.RoleRejected{ID: id, Sw: sw, Role: role,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// WithTimeout is a small helper so callers can bound an operation with
// the configured timeout without threading context.WithTimeout calls
// through every call site.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
