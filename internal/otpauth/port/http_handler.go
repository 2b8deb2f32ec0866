// Package port exposes the login use cases over HTTP as a single action
// endpoint.
package port

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/errmap"
	"github.com/hur-delivery/otpauth/internal/observability"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
)

// maxBodyBytes bounds an action request body.
const maxBodyBytes = 64 << 10

// loginService is a narrow, consumer-defined interface for the use cases the
// handler dispatches to. The *app.Service satisfies it.
type loginService interface {
	SendCode(ctx context.Context, rawPhone string, purpose domain.Purpose) (*app.SendResult, error)
	VerifyCode(ctx context.Context, rawPhone string, purpose domain.Purpose, code string) (bool, error)
	Authenticate(ctx context.Context, rawPhone, code string, purpose domain.Purpose) (*app.AuthResult, error)
	ResetPassword(ctx context.Context, rawPhone, code string, purpose domain.Purpose) (*app.AuthResult, error)
	DeleteAuthUser(ctx context.Context, rawPhone, code string) (*app.DeleteResult, error)
}

// PingStatus reports which collaborators are configured. Only booleans are
// ever exposed.
type PingStatus struct {
	IdentityProviderURL bool `json:"identityProviderUrl"`
	ServiceKey          bool `json:"serviceKey"`
	CodeStore           bool `json:"codeStore"`
	ProfileStore        bool `json:"profileStore"`
	DeliveryProvider    bool `json:"deliveryProvider"`
	LockStore           bool `json:"lockStore"`
}

// Handler dispatches POST / requests on their "action" field.
type Handler struct {
	svc    loginService
	status PingStatus
	clock  domain.Clock
	logger *slog.Logger
}

// HandlerConfig holds the dependencies for Handler.
type HandlerConfig struct {
	Service loginService
	Status  PingStatus
	Clock   domain.Clock
	Logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{svc: cfg.Service, status: cfg.Status, clock: cfg.Clock, logger: cfg.Logger}
	if h.clock == nil {
		h.clock = domain.RealClock{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Routes mounts the action endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(cors, h.recoverer)
		r.HandleFunc("/", h.ServeAction)
	})
}

// actionRequest is the body of every action.
type actionRequest struct {
	Action      string `json:"action"`
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Purpose     string `json:"purpose"`
}

// ServeAction handles every method on the action endpoint.
func (h *Handler) ServeAction(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"success": false,
			"error":   "method " + r.Method + " not allowed",
			"code":    "METHOD_NOT_ALLOWED",
		})
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		h.writeError(w, r, fmt.Errorf("decode body: %w: %v", domain.ErrInvalidInput, err))
		return
	}
	var req actionRequest
	if err := decodeFields(raw, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("decode body: %w: %v", domain.ErrInvalidInput, err))
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "ping":
		h.ping(w)
	case "send":
		h.send(ctx, w, r, req)
	case "verify":
		h.verify(ctx, w, r, req)
	case "authenticate":
		h.authenticate(ctx, w, r, req)
	case "reset_password":
		h.resetPassword(ctx, w, r, req)
	case "delete_auth_user":
		h.deleteAuthUser(ctx, w, r, req)
	default:
		h.unknownAction(w, r, req.Action, raw)
	}
}

func (h *Handler) ping(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"pong":      true,
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
		"env":       h.status,
	})
}

func (h *Handler) send(ctx context.Context, w http.ResponseWriter, r *http.Request, req actionRequest) {
	if err := requirePhone(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.SendCode(ctx, req.PhoneNumber, domain.PurposeOr(domain.Purpose(req.Purpose), domain.PurposeSignup))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body := map[string]any{
		"success":   true,
		"expiresAt": res.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if res.TestMode {
		body["testMode"] = true
		body["otpCode"] = res.TestCode
	}
	if res.DeliveryWarning != "" {
		body["warning"] = res.DeliveryWarning
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) verify(ctx context.Context, w http.ResponseWriter, r *http.Request, req actionRequest) {
	if err := requirePhoneAndCode(req); err != nil {
		h.writeErrorWith(w, r, err, invalidCode)
		return
	}

	valid, err := h.svc.VerifyCode(ctx, req.PhoneNumber, domain.PurposeOr(domain.Purpose(req.Purpose), domain.PurposeSignup), req.Code)
	if err != nil {
		h.writeErrorWith(w, r, err, invalidCode)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "valid": valid})
}

func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, req actionRequest) {
	if err := h.requireIdentityProvider(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := requirePhoneAndCode(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Authenticate(ctx, req.PhoneNumber, req.Code, domain.Purpose(req.Purpose))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"email":      res.LoginIdentifier,
		"password":   res.Password.Expose(),
		"authUserId": res.IdentityID,
		"hasProfile": res.HasLinkedProfile,
	})
}

func (h *Handler) resetPassword(ctx context.Context, w http.ResponseWriter, r *http.Request, req actionRequest) {
	if err := h.requireIdentityProvider(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := requirePhoneAndCode(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.ResetPassword(ctx, req.PhoneNumber, req.Code, domain.Purpose(req.Purpose))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"newPassword": res.Password.Expose(),
	})
}

func (h *Handler) deleteAuthUser(ctx context.Context, w http.ResponseWriter, r *http.Request, req actionRequest) {
	if err := h.requireIdentityProvider(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := requirePhone(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.DeleteAuthUser(ctx, req.PhoneNumber, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body := map[string]any{"success": true}
	if res.Message != "" {
		body["message"] = res.Message
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) unknownAction(w http.ResponseWriter, r *http.Request, action string, raw map[string]json.RawMessage) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	observability.WithTraceID(r.Context(), h.logger).WarnContext(r.Context(), "unknown action",
		"action", action, "body_keys", keys)
	h.writeErrorWith(w, r, fmt.Errorf("%w: %q", domain.ErrUnknownAction, action), map[string]any{
		"action":       action,
		"receivedKeys": keys,
	})
}

func (h *Handler) requireIdentityProvider() error {
	if !h.status.IdentityProviderURL || !h.status.ServiceKey {
		return fmt.Errorf("identity provider url or service key missing: %w", domain.ErrNotConfigured)
	}
	return nil
}

func requirePhone(req actionRequest) error {
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return fmt.Errorf("phoneNumber is required: %w", domain.ErrInvalidInput)
	}
	return nil
}

func requirePhoneAndCode(req actionRequest) error {
	if err := requirePhone(req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Code) == "" {
		return fmt.Errorf("code is required: %w", domain.ErrInvalidInput)
	}
	return nil
}

// invalidCode is added to every failed verify answer.
var invalidCode = map[string]any{"valid": false}

// writeError answers with the error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorWith(w, r, err, nil)
}

// writeErrorWith answers with the error envelope plus extra fields. Client
// errors are not logged; transient conditions log a warning and everything
// else an error.
func (h *Handler) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	herr := errmap.ToHTTPError(err)
	logger := observability.WithTraceID(r.Context(), h.logger)
	switch {
	case domain.IsClientError(err):
	case domain.IsRetryable(err):
		logger.WarnContext(r.Context(), "action deferred", "error", err, "code", herr.Code)
	default:
		logger.ErrorContext(r.Context(), "action failed", "error", err, "code", herr.Code)
	}

	body := map[string]any{
		"success": false,
		"error":   herr.Message,
		"code":    herr.Code,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, herr.StatusCode, body)
}

// recoverer turns a panic into a 500 JSON answer carrying the panic value.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			observability.WithTraceID(r.Context(), h.logger).ErrorContext(r.Context(), "panic in action handler",
				"error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
				"code":    "INTERNAL",
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// cors allows browser clients from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func decodeFields(raw map[string]json.RawMessage, req *actionRequest) error {
	fields := map[string]*string{
		"action":      &req.Action,
		"phoneNumber": &req.PhoneNumber,
		"code":        &req.Code,
		"purpose":     &req.Purpose,
	}
	for key, dst := range fields {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
