package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/rfid"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	cardsPath          = "cards"
	maxErrorBody       = 2048
)

// HTTPConfig controls how the portal REST client behaves.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

// HTTPRepository implements Repository against the portal REST backend:
//
//	GET  {base}/cards/{uid}  200 card | 404
//	POST {base}/cards        201 card | 409 duplicate
type HTTPRepository struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

// NewHTTPRepository constructs a REST-backed repository.
func NewHTTPRepository(cfg HTTPConfig) (*HTTPRepository, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("cards backend base url is required")
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cards backend base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPRepository{
		baseURL: parsed,
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// FindByUID asks the backend for the card with uid.
func (r *HTTPRepository) FindByUID(ctx context.Context, uid string) (*Card, error) {
	uid = rfid.NormalizeUID(uid)
	if uid == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidCard)
	}
	if uid == "." || uid == ".." {
		return nil, fmt.Errorf("%w: invalid uid %q", ErrInvalidCard, uid)
	}

	resp, err := r.do(ctx, http.MethodGet, r.cardEndpoint(uid), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var card Card
		if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
			return nil, fmt.Errorf("decoding card: %w", err)
		}
		card.UID = rfid.NormalizeUID(card.UID)
		return &card, nil
	case http.StatusNotFound:
		return nil, ErrCardNotFound
	default:
		return nil, unexpectedStatus(resp)
	}
}

// Create posts card to the backend. On success card is replaced with the
// backend's copy when one is returned.
func (r *HTTPRepository) Create(ctx context.Context, card *Card) error {
	if err := card.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshalling card: %w", err)
	}

	resp, err := r.do(ctx, http.MethodPost, r.endpoint(cardsPath), body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var created Card
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.UID != "" {
			*card = created
		}
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrDuplicateCard, card.UID)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidCard, readBody(resp))
	default:
		return unexpectedStatus(resp)
	}
}

func (r *HTTPRepository) endpoint(elems ...string) string {
	u := *r.baseURL
	u.Path = path.Join(append([]string{u.Path}, elems...)...)
	return u.String()
}

// cardEndpoint returns {base}/cards/{uid} with uid escaped as a single
// path segment, so separators in a UID never reach another route.
func (r *HTTPRepository) cardEndpoint(uid string) string {
	u := *r.baseURL
	base := path.Join(u.EscapedPath(), cardsPath)
	u.Path = path.Join(u.Path, cardsPath) + "/" + uid
	u.RawPath = base + "/" + url.PathEscape(uid)
	return u.String()
}

func (r *HTTPRepository) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating cards request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cards request failed: %w", err)
	}
	return resp, nil
}

func unexpectedStatus(resp *http.Response) error {
	return fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, readBody(resp))
}

func readBody(resp *http.Response) string {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return strings.TrimSpace(string(msg))
}
