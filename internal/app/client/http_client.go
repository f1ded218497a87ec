package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
)

// RemoteAPI авторитетный CRUD сервер
type RemoteAPI interface {
	Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error)
	List(ctx context.Context, t entity.Type, params map[string]string) ([]entity.Entity, error)
	Create(ctx context.Context, t entity.Type, data entity.Entity) (entity.Entity, error)
	Update(ctx context.Context, t entity.Type, id string, data entity.Entity) (entity.Entity, error)
	Delete(ctx context.Context, t entity.Type, id string) error
	Health(ctx context.Context) error
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	tokenPath string
	userAgent string
}

func NewHTTPClient(baseURL, tokenPath string, log *slog.Logger) *httpClient {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &httpClient{
		client:    client,
		log:       log.With("component", "http_client"),
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokenPath: tokenPath,
		userAgent: "FieldSync-Client/1.0",
	}
}

// Health проверяет доступность сервера
func (h *httpClient) Health(ctx context.Context) error {
	resp, err := h.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

func (h *httpClient) Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error) {
	resp, err := h.doRequest(ctx, http.MethodGet, entityPath(t, id), nil)
	if err != nil {
		return nil, err
	}

	var out entity.Entity
	if err := h.parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *httpClient) List(ctx context.Context, t entity.Type, params map[string]string) ([]entity.Entity, error) {
	path := t.BasePath()
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	resp, err := h.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var listResp struct {
		Data []entity.Entity `json:"data"`
	}
	if err := h.parseResponse(resp, &listResp); err != nil {
		return nil, err
	}
	if listResp.Data == nil {
		listResp.Data = []entity.Entity{}
	}
	return listResp.Data, nil
}

func (h *httpClient) Create(ctx context.Context, t entity.Type, data entity.Entity) (entity.Entity, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, t.BasePath(), data)
	if err != nil {
		return nil, err
	}

	var out entity.Entity
	if err := h.parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *httpClient) Update(ctx context.Context, t entity.Type, id string, data entity.Entity) (entity.Entity, error) {
	resp, err := h.doRequest(ctx, http.MethodPut, entityPath(t, id), data)
	if err != nil {
		return nil, err
	}

	var out entity.Entity
	if err := h.parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *httpClient) Delete(ctx context.Context, t entity.Type, id string) error {
	resp, err := h.doRequest(ctx, http.MethodDelete, entityPath(t, id), nil)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

// token читается при каждом запросе: его может обновить другой процесс
func (h *httpClient) token() string {
	if h.tokenPath == "" {
		return ""
	}
	raw, err := os.ReadFile(h.tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (h *httpClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := h.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	h.log.Debug("sending request",
		"method", method,
		"url", req.URL.String(),
	)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return resp, nil
}

func (h *httpClient) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	h.log.Debug("response received",
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error  string `json:"error"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		msg := ""
		if err := json.Unmarshal(body, &errResp); err == nil {
			switch {
			case errResp.Detail != "":
				msg = errResp.Detail
			case errResp.Error != "":
				msg = errResp.Error
			default:
				msg = errResp.Title
			}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func entityPath(t entity.Type, id string) string {
	return t.BasePath() + "/" + url.PathEscape(id)
}
