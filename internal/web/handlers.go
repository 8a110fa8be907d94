package web

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/cmsadmin/internal/account"
	"github.com/tyemirov/cmsadmin/internal/session"
	"github.com/tyemirov/cmsadmin/pkg/directus"
	"go.uber.org/zap"
)

const (
	signInRoute    = "/auth/signin"
	signOutRoute   = "/auth/signout"
	dashboardRoute = "/dashboard"

	returnURLQueryKey = "return_url"
)

// genericSignInFailure is shown when the underlying failure carries internal
// detail that must not reach the end user.
const genericSignInFailure = "An error occurred during sign in. Please try again."

// Config carries everything the web boundary needs for one deployment.
type Config struct {
	CMSBaseURL        string
	RequestTimeout    time.Duration
	SessionCookieName string
	CookieDomain      string
	SessionSigningKey []byte
	SessionTTL        time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
}

// Handler wires the session store and the upstream CMS client into the gin
// routes. The directus client and credential store are built fresh per
// inbound request so one visitor's token can never leak into another's call.
type Handler struct {
	configuration Config
	sessions      session.Store
	transport     *http.Client
	clock         session.Clock
	metrics       account.Recorder
	logger        *zap.Logger
}

// NewHandler constructs the web boundary. The transport is shared across
// requests for connection pooling; everything token-bearing is request-scoped.
func NewHandler(configuration Config, sessions session.Store, transport *http.Client, clock session.Clock, metrics account.Recorder, logger *zap.Logger) *Handler {
	if transport == nil {
		transport = &http.Client{}
	}
	if clock == nil {
		clock = session.NewSystemClock()
	}
	if metrics == nil {
		metrics = account.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		configuration: configuration,
		sessions:      sessions,
		transport:     transport,
		clock:         clock,
		metrics:       metrics,
		logger:        logger,
	}
}

// MountRoutes registers sign-in, sign-out, and the protected dashboard.
func (handler *Handler) MountRoutes(router gin.IRouter) {
	router.GET(signInRoute, handler.handleSignInPage)
	router.POST(signInRoute, handler.handleSignInSubmit)
	router.POST(signOutRoute, handler.handleSignOut)

	protected := router.Group("/")
	protected.Use(handler.RequireAuthenticated())
	protected.GET(dashboardRoute, handler.handleDashboard)
}

// RequireAuthenticated redirects requests without an unexpired credential
// record to the sign-in page, preserving the original destination.
func (handler *Handler) RequireAuthenticated() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		credentials := handler.credentialStore(contextGin.Request)
		if credentials.SessionID() == "" || !credentials.IsAuthenticated(contextGin.Request.Context()) {
			destination := signInRoute + "?" + returnURLQueryKey + "=" + url.QueryEscape(contextGin.Request.URL.RequestURI())
			contextGin.Redirect(http.StatusSeeOther, destination)
			contextGin.Abort()
			return
		}
		contextGin.Next()
	}
}

func (handler *Handler) handleSignInPage(contextGin *gin.Context) {
	credentials := handler.credentialStore(contextGin.Request)
	if credentials.IsAuthenticated(contextGin.Request.Context()) {
		contextGin.Redirect(http.StatusSeeOther, dashboardRoute)
		return
	}
	renderSignIn(contextGin, http.StatusOK, signInPageData{
		ReturnURL: contextGin.Query(returnURLQueryKey),
	})
}

func (handler *Handler) handleSignInSubmit(contextGin *gin.Context) {
	var form struct {
		Email     string `form:"email"`
		Password  string `form:"password"`
		ReturnURL string `form:"return_url"`
	}
	if bindErr := contextGin.ShouldBind(&form); bindErr != nil {
		handler.logger.Warn("sign-in form not bindable",
			zap.String("code", "web.signin.bad_form"),
			zap.Error(bindErr))
	}

	sessionID := handler.currentSessionID(contextGin.Request)
	if sessionID == "" {
		sessionID = handler.issueSession(contextGin)
	}
	credentials := session.NewCredentialStore(handler.sessions, sessionID, handler.clock, handler.logger)

	service, serviceErr := handler.requestService(credentials)
	if serviceErr != nil {
		handler.logger.Error("failed to build upstream client",
			zap.String("code", "web.signin.client_init"),
			zap.Error(serviceErr))
		renderSignIn(contextGin, http.StatusOK, signInPageData{
			ErrorMessage: genericSignInFailure,
			Email:        form.Email,
			ReturnURL:    form.ReturnURL,
		})
		return
	}

	result := service.Login(contextGin.Request.Context(), form.Email, form.Password)
	if result.IsSuccess() && result.Data != nil {
		destination := dashboardRoute
		if isLocalReturnURL(form.ReturnURL) {
			destination = form.ReturnURL
		}
		contextGin.Redirect(http.StatusSeeOther, destination)
		return
	}

	renderSignIn(contextGin, http.StatusOK, signInPageData{
		ErrorMessage: formErrorMessage(result),
		Email:        form.Email,
		ReturnURL:    form.ReturnURL,
	})
}

func (handler *Handler) handleSignOut(contextGin *gin.Context) {
	credentials := handler.credentialStore(contextGin.Request)
	if credentials.SessionID() != "" {
		service, serviceErr := handler.requestService(credentials)
		if serviceErr == nil {
			if logoutErr := service.Logout(contextGin.Request.Context()); logoutErr != nil {
				handler.logger.Error("logout failed",
					zap.String("code", "web.signout.failed"),
					zap.Error(logoutErr))
			}
		}
	}
	// Sign-out always lands on the sign-in page, whether or not a current
	// identity existed.
	contextGin.Redirect(http.StatusSeeOther, signInRoute)
}

func (handler *Handler) handleDashboard(contextGin *gin.Context) {
	credentials := handler.credentialStore(contextGin.Request)
	record, found := credentials.CurrentUser(contextGin.Request.Context())
	if !found {
		contextGin.Redirect(http.StatusSeeOther, signInRoute)
		return
	}
	renderDashboard(contextGin, dashboardPageData{
		DisplayName: record.FullName(),
		Email:       record.Email,
		RoleName:    record.RoleName,
		ExpiresAt:   record.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// credentialStore binds a credential store to the inbound request's session;
// the store degrades to no-ops when the request carries no valid cookie.
func (handler *Handler) credentialStore(request *http.Request) *session.CredentialStore {
	sessionID := handler.currentSessionID(request)
	return session.NewCredentialStore(handler.sessions, sessionID, handler.clock, handler.logger)
}

func (handler *Handler) currentSessionID(request *http.Request) string {
	cookie, cookieErr := request.Cookie(handler.configuration.SessionCookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return ""
	}
	sessionID, parseErr := parseSessionCookie(cookie.Value, handler.configuration.SessionSigningKey)
	if parseErr != nil {
		handler.logger.Warn("session cookie rejected",
			zap.String("code", "web.session_cookie.rejected"),
			zap.Error(parseErr))
		return ""
	}
	return sessionID
}

func (handler *Handler) issueSession(contextGin *gin.Context) string {
	sessionID := uuid.NewString()
	cookieValue, expiresAt, mintErr := mintSessionCookie(sessionID, handler.configuration.SessionSigningKey, handler.configuration.SessionTTL, handler.clock.Now())
	if mintErr != nil {
		handler.logger.Error("failed to mint session cookie",
			zap.String("code", "web.session_cookie.mint_failed"),
			zap.Error(mintErr))
		return ""
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     handler.configuration.SessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		Domain:   handler.configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !handler.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: handler.configuration.SameSiteMode,
	})
	return sessionID
}

func (handler *Handler) requestService(credentials *session.CredentialStore) (*account.Service, error) {
	client, clientErr := directus.NewClient(directus.Config{
		BaseURL:        handler.configuration.CMSBaseURL,
		RequestTimeout: handler.configuration.RequestTimeout,
	}, handler.transport, credentials, handler.logger)
	if clientErr != nil {
		return nil, clientErr
	}
	return account.NewService(client, credentials, handler.clock, handler.metrics, handler.logger), nil
}

// formErrorMessage maps a failed login envelope to the message attached to
// the submission form. Locally synthesized codes carry internal detail and
// collapse to a generic message; upstream messages surface verbatim.
func formErrorMessage[T any](result directus.Envelope[T]) string {
	switch result.FirstErrorCode() {
	case account.CodeLoginError, directus.CodeRequestFailed, directus.CodeParseError:
		return genericSignInFailure
	}
	if result.Message() == "" {
		return genericSignInFailure
	}
	return result.Message()
}

// isLocalReturnURL accepts only same-site absolute paths as redirect targets.
func isLocalReturnURL(candidate string) bool {
	if candidate == "" || !strings.HasPrefix(candidate, "/") {
		return false
	}
	if strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return false
	}
	return true
}
