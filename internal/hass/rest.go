package hass

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// restClient reads entity states over the Home Assistant REST API. Used as a
// fallback for one-shot reads while the WebSocket is down.
type restClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newRESTClient(baseURL, token string, timeout time.Duration) *restClient {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetState fetches /api/states/<entityID>.
func (r *restClient) GetState(entityID string) (*State, error) {
	if r.baseURL == "" {
		return nil, &ConnectionError{Op: "rest get_state", Err: fmt.Errorf("no rest url configured")}
	}

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/states/%s", r.baseURL, entityID), nil)
	if err != nil {
		return nil, &ConnectionError{Op: "rest get_state", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: "rest get_state", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &EntityNotFoundError{EntityID: entityID}
	default:
		return nil, &ConnectionError{Op: "rest get_state", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decoding state of %s: %w", entityID, err)
	}

	return &state, nil
}
