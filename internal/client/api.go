package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
)

const apiRequestTimeout = 10 * time.Second

// APIClient talks to the signaling server's /webrtc endpoints. Server-side
// AppError codes come back intact; transport problems surface as
// NETWORK_FAILURE or TIMEOUT.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: apiRequestTimeout,
		},
	}
}

func (c *APIClient) IceConfig(ctx context.Context) ([]model.IceServer, error) {
	var out struct {
		IceServers []model.IceServer `json:"ice_servers"`
	}
	if err := c.do(ctx, http.MethodGet, "/webrtc/config", nil, &out); err != nil {
		return nil, err
	}
	return out.IceServers, nil
}

func (c *APIClient) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/webrtc/sessions", params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, http.MethodGet, "/webrtc/sessions/"+id, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) SubmitAnswer(ctx context.Context, id string, params model.SubmitAnswerParams) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/webrtc/sessions/"+id+"/answer", params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) SubmitCandidate(ctx context.Context, id string, candidate json.RawMessage) (*model.Session, error) {
	body := struct {
		Candidate json.RawMessage `json:"candidate"`
	}{Candidate: candidate}

	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/webrtc/sessions/"+id+"/candidates", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) CloseSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/webrtc/sessions/"+id+"/close", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return apperrors.Timeout("no response within the request deadline").WithCause(err)
		}
		return apperrors.NetworkFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.NetworkFailure(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string              `json:"error"`
		Code  apperrors.ErrorCode `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return apperrors.NetworkFailure(fmt.Errorf("server returned %s", resp.Status))
	}
	return apperrors.New(body.Code, body.Error)
}
