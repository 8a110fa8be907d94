package account

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tyemirov/cmsadmin/internal/session"
	"github.com/tyemirov/cmsadmin/pkg/directus"
	"go.uber.org/zap"
)

// Upstream endpoints. The identity path requests all base fields plus the
// role id and name.
const (
	loginPath    = "auth/login"
	identityPath = "users/me?fields[]=*&fields[]=role.id,role.name"
)

// Error codes synthesized at the orchestration boundary.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeLoginError         = "LOGIN_ERROR"
	CodeFetchIdentityError = "FETCH_USER_INFO_ERROR"
)

// LoginPayload is the raw token pair returned by the credential exchange.
// Expires is the number of seconds until the access token becomes invalid.
type LoginPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
}

// Identity mirrors the CMS users/me response.
type Identity struct {
	ID        string        `json:"id"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Email     string        `json:"email"`
	Avatar    string        `json:"avatar"`
	Role      *IdentityRole `json:"role"`
	Status    string        `json:"status"`
}

// IdentityRole is the role block of the users/me response.
type IdentityRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Service orchestrates the credential exchange and session persistence for
// one inbound request. Both the client and the credential store are scoped to
// that request's session.
type Service struct {
	client      *directus.Client
	credentials *session.CredentialStore
	clock       session.Clock
	metrics     Recorder
	logger      *zap.Logger
}

// NewService wires the request-scoped client and credential store together.
func NewService(client *directus.Client, credentials *session.CredentialStore, clock session.Clock, metrics Recorder, logger *zap.Logger) *Service {
	if clock == nil {
		clock = session.NewSystemClock()
	}
	if metrics == nil {
		metrics = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:      client,
		credentials: credentials,
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
	}
}

// Login trades the email/password pair for a token pair, persists the
// resulting credential record under the current session, and returns the raw
// token payload. A failed identity fetch after a successful exchange degrades
// the stored record but does not fail the login.
func (service *Service) Login(ctx context.Context, userEmail string, userPassword string) directus.Envelope[LoginPayload] {
	if strings.TrimSpace(userEmail) == "" || userPassword == "" {
		service.metrics.Increment(EventLoginFailed)
		service.logger.Warn("login rejected before upstream call",
			zap.String("code", "login.invalid_request"))
		return directus.ErrorEnvelope[LoginPayload]("Email and password are required", CodeInvalidRequest, http.StatusBadRequest)
	}

	service.logger.Info("login attempt", zap.String("user_email", userEmail))

	response := directus.Post[LoginPayload](ctx, service.client, loginPath, loginRequest{
		Email:    userEmail,
		Password: userPassword,
	})
	if !response.IsSuccess() {
		service.metrics.Increment(EventLoginFailed)
		service.logger.Warn("login failed",
			zap.String("code", "login.exchange_failed"),
			zap.String("user_email", userEmail),
			zap.Int("status", response.StatusCode),
			zap.String("upstream_error", response.Message()))
		return directus.Envelope[LoginPayload]{StatusCode: response.StatusCode, Errors: response.Errors}
	}
	if response.Data == nil {
		service.metrics.Increment(EventLoginFailed)
		service.logger.Error("credential exchange succeeded without a token payload",
			zap.String("code", "login.empty_payload"),
			zap.String("user_email", userEmail))
		return directus.ErrorEnvelope[LoginPayload]("Login failed: credential exchange returned no payload", CodeLoginError, http.StatusBadGateway)
	}

	payload := *response.Data
	expiresAt := service.clock.Now().Add(time.Duration(payload.Expires) * time.Second)
	service.client.AttachToken(payload.AccessToken)

	record := session.Record{
		Email:         userEmail,
		AccessToken:   payload.AccessToken,
		RefreshToken:  payload.RefreshToken,
		ExpiresAt:     expiresAt,
		Authenticated: true,
	}

	identityResponse := service.FetchCurrentIdentity(ctx)
	if identityResponse.IsSuccess() && identityResponse.Data != nil {
		identity := *identityResponse.Data
		record.ID = identity.ID
		if identity.Email != "" {
			record.Email = identity.Email
		}
		record.FirstName = identity.FirstName
		record.LastName = identity.LastName
		record.Avatar = identity.Avatar
		if identity.Role != nil {
			record.RoleName = identity.Role.Name
		}
	} else {
		// Login still succeeds on a degraded record. Candidate for an
		// explicit partial-login status.
		service.metrics.Increment(EventLoginDegraded)
		service.logger.Warn("identity fetch failed after login, storing degraded record",
			zap.String("code", "login.identity_fetch_failed"),
			zap.String("user_email", userEmail),
			zap.String("upstream_error", identityResponse.Message()))
	}

	if setErr := service.credentials.SetUser(ctx, record); setErr != nil {
		service.metrics.Increment(EventLoginFailed)
		service.logger.Error("failed to persist credential record",
			zap.String("code", "login.store_failed"),
			zap.String("user_email", userEmail),
			zap.Error(setErr))
		return directus.ErrorEnvelope[LoginPayload](fmt.Sprintf("Login failed: %v", setErr), CodeLoginError, http.StatusInternalServerError)
	}

	service.metrics.Increment(EventLoginSuccess)
	service.logger.Info("login successful",
		zap.String("user_email", record.Email),
		zap.String("user_display", record.FullName()),
		zap.Time("expires_at", expiresAt))

	return directus.Envelope[LoginPayload]{StatusCode: response.StatusCode, Data: &payload}
}

// FetchCurrentIdentity fetches the authenticated identity and returns the
// upstream envelope unchanged.
func (service *Service) FetchCurrentIdentity(ctx context.Context) directus.Envelope[Identity] {
	if service.client == nil {
		return directus.ErrorEnvelope[Identity]("Failed to fetch user info: client is not configured", CodeFetchIdentityError, http.StatusInternalServerError)
	}
	response := directus.Get[Identity](ctx, service.client, identityPath)
	if response.IsSuccess() && response.Data != nil {
		service.metrics.Increment(EventIdentityFetched)
	} else {
		service.metrics.Increment(EventIdentityFetchErr)
	}
	return response
}

// Logout clears the stored credentials and strips the attached token. It is
// the one operation allowed to surface a store failure: there is no safe
// degraded state to report instead.
func (service *Service) Logout(ctx context.Context) error {
	userEmail := "unknown"
	if record, found := service.credentials.CurrentUser(ctx); found && record.Email != "" {
		userEmail = record.Email
	}

	if clearErr := service.credentials.ClearUser(ctx); clearErr != nil {
		service.logger.Error("failed to clear credential record",
			zap.String("code", "logout.clear_failed"),
			zap.String("user_email", userEmail),
			zap.Error(clearErr))
		return clearErr
	}
	service.client.RemoveToken()

	service.metrics.Increment(EventLogout)
	service.logger.Info("logout successful", zap.String("user_email", userEmail))
	return nil
}
