package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// IdentityClientConfig configures IdentityClient.
type IdentityClientConfig struct {
	BaseURL    string
	ServiceKey domain.SecretString
	// MaxPages and PageSize bound SearchIdentities.
	MaxPages int
	PageSize int
}

// IdentityClient talks to a GoTrue-compatible admin API with the service
// key. It never returns the key to callers.
type IdentityClient struct {
	baseURL    string
	serviceKey domain.SecretString
	maxPages   int
	pageSize   int
	httpClient *http.Client
}

var _ app.IdentityProvider = (*IdentityClient)(nil)

// NewIdentityClient creates an IdentityClient. A nil httpClient uses
// http.DefaultClient; per-call deadlines come from the context.
func NewIdentityClient(cfg IdentityClientConfig, httpClient *http.Client) *IdentityClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = domain.IdentitySearchMaxPages
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = domain.IdentitySearchPageSize
	}
	return &IdentityClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		serviceKey: cfg.ServiceKey,
		maxPages:   cfg.MaxPages,
		pageSize:   cfg.PageSize,
		httpClient: httpClient,
	}
}

type userMetadata struct {
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	TestUser  bool   `json:"test_user,omitempty"`
}

type userResponse struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata userMetadata `json:"user_metadata"`
	CreatedAt    time.Time    `json:"created_at"`
}

type listUsersResponse struct {
	Users []userResponse `json:"users"`
}

type createUserRequest struct {
	Email        string       `json:"email"`
	Password     string       `json:"password"`
	EmailConfirm bool         `json:"email_confirm"`
	UserMetadata userMetadata `json:"user_metadata"`
}

type updateUserRequest struct {
	Password string `json:"password"`
}

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (u userResponse) account() *app.IdentityAccount {
	return &app.IdentityAccount{
		ID:              u.ID,
		LoginIdentifier: u.Email,
		Metadata: app.IdentityMetadata{
			Phone:     u.UserMetadata.Phone,
			CreatedAt: u.UserMetadata.CreatedAt,
			TestUser:  u.UserMetadata.TestUser,
		},
		CreatedAt: u.CreatedAt,
	}
}

// GetIdentity fetches the account keyed id. A missing account is
// domain.ErrNotFound.
func (c *IdentityClient) GetIdentity(ctx context.Context, id string) (*app.IdentityAccount, error) {
	ctx, span := tracer.Start(ctx, "identity.get")
	defer span.End()

	var user userResponse
	if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, fmt.Errorf("identity provider: get %s: %w", id, err)
	}
	return user.account(), nil
}

// SearchIdentities pages through the admin user list with query as the
// filter, stopping at a short page or the configured page limit.
func (c *IdentityClient) SearchIdentities(ctx context.Context, query string) ([]app.IdentityAccount, error) {
	ctx, span := tracer.Start(ctx, "identity.search")
	defer span.End()

	var out []app.IdentityAccount
	for page := 1; page <= c.maxPages; page++ {
		q := url.Values{}
		q.Set("filter", query)
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.pageSize))

		var list listUsersResponse
		if err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), nil, &list); err != nil {
			return nil, fmt.Errorf("identity provider: search page %d: %w", page, err)
		}
		for _, u := range list.Users {
			if strings.Contains(u.Email, query) || strings.Contains(u.UserMetadata.Phone, query) {
				out = append(out, *u.account())
			}
		}
		if len(list.Users) < c.pageSize {
			break
		}
	}
	span.SetAttributes(attribute.Int("identity.search.hits", len(out)))
	return out, nil
}

// CreateIdentity creates a confirmed account.
func (c *IdentityClient) CreateIdentity(ctx context.Context, in app.NewIdentity) (*app.IdentityAccount, error) {
	ctx, span := tracer.Start(ctx, "identity.create")
	defer span.End()

	body := createUserRequest{
		Email:        in.LoginIdentifier,
		Password:     in.Password,
		EmailConfirm: true,
		UserMetadata: userMetadata{
			Phone:     in.Metadata.Phone,
			CreatedAt: in.Metadata.CreatedAt,
			TestUser:  in.Metadata.TestUser,
		},
	}
	var user userResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, &user); err != nil {
		return nil, fmt.Errorf("identity provider: create %s: %w", in.LoginIdentifier, err)
	}
	return user.account(), nil
}

// SetPassword replaces the password of account id.
func (c *IdentityClient) SetPassword(ctx context.Context, id, password string) error {
	ctx, span := tracer.Start(ctx, "identity.set_password")
	defer span.End()

	if err := c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(id), updateUserRequest{Password: password}, nil); err != nil {
		return fmt.Errorf("identity provider: set password %s: %w", id, err)
	}
	return nil
}

// DeleteIdentity deletes account id. A missing account is domain.ErrNotFound.
func (c *IdentityClient) DeleteIdentity(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "identity.delete")
	defer span.End()

	if err := c.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("identity provider: delete %s: %w", id, err)
	}
	return nil
}

// SignInWithPassword runs a password grant. A 4xx answer is a rejection;
// anything else that is not 200 is an error.
func (c *IdentityClient) SignInWithPassword(ctx context.Context, loginIdentifier, password string) (bool, error) {
	ctx, span := tracer.Start(ctx, "identity.sign_in")
	defer span.End()

	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password",
		passwordGrantRequest{Email: loginIdentifier, Password: password}, &tok)

	var apiErr *apiError
	switch {
	case err == nil:
		return tok.AccessToken != "", nil
	case errors.As(err, &apiErr) && apiErr.status >= 400 && apiErr.status < 500:
		return false, nil
	default:
		return false, fmt.Errorf("identity provider: sign in: %w", err)
	}
}

// apiError is a non-2xx answer from the identity provider.
type apiError struct {
	status int
	body   string
	cause  error
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (e *apiError) Unwrap() error { return e.cause }

func (c *IdentityClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	key := c.serviceKey.Expose()
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w: %w", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(payload))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		e := &apiError{status: resp.StatusCode, body: msg}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			e.cause = domain.ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			e.cause = domain.ErrUnavailable
		}
		return e
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
