package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/cmsadmin/internal/account"
	"github.com/tyemirov/cmsadmin/internal/session"
	"go.uber.org/zap/zaptest"
)

const (
	fixtureCookieName = "cmsadmin_session"
	fixtureEmail      = "admin@example.com"
	fixturePassword   = "correct-horse"
)

type upstreamStub struct {
	loginStatus  int
	loginBody    string
	identityBody string
}

func (stub *upstreamStub) handler() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case request.Method == http.MethodPost && request.URL.Path == "/auth/login":
			var payload struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if decodeErr := json.NewDecoder(request.Body).Decode(&payload); decodeErr != nil {
				writer.WriteHeader(http.StatusBadRequest)
				return
			}
			if stub.loginStatus != 0 {
				writer.WriteHeader(stub.loginStatus)
				writer.Write([]byte(stub.loginBody))
				return
			}
			if payload.Email != fixtureEmail || payload.Password != fixturePassword {
				writer.WriteHeader(http.StatusUnauthorized)
				writer.Write([]byte(`{"errors":[{"message":"Invalid user credentials.","extensions":{"code":"INVALID_CREDENTIALS"}}]}`))
				return
			}
			writer.Write([]byte(`{"data":{"access_token":"AT1","refresh_token":"RT1","expires":3600}}`))
		case request.Method == http.MethodGet && request.URL.Path == "/users/me":
			body := stub.identityBody
			if body == "" {
				body = `{"data":{"id":"42","first_name":"Ada","last_name":"Lovelace","email":"admin@example.com","role":{"id":"r1","name":"Administrator"}}}`
			}
			writer.Write([]byte(body))
		default:
			writer.WriteHeader(http.StatusNotFound)
			writer.Write([]byte(`{"errors":[{"message":"Route not found.","extensions":{"code":"ROUTE_NOT_FOUND"}}]}`))
		}
	})
}

type webFixture struct {
	router   *gin.Engine
	handler  *Handler
	sessions session.Store
	upstream *httptest.Server
}

func newWebFixture(t *testing.T, stub *upstreamStub) *webFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(stub.handler())
	t.Cleanup(upstream.Close)

	sessions := session.NewMemoryStore(time.Hour)
	handler := NewHandler(Config{
		CMSBaseURL:        upstream.URL,
		RequestTimeout:    5 * time.Second,
		SessionCookieName: fixtureCookieName,
		SessionSigningKey: cookieTestKey,
		SessionTTL:        time.Hour,
		SameSiteMode:      http.SameSiteLaxMode,
		AllowInsecureHTTP: true,
	}, sessions, upstream.Client(), session.NewSystemClock(), account.NopRecorder{}, zaptest.NewLogger(t))

	router := gin.New()
	handler.MountRoutes(router)

	return &webFixture{router: router, handler: handler, sessions: sessions, upstream: upstream}
}

func (fixture *webFixture) signInForm(extra url.Values) *http.Request {
	form := url.Values{}
	form.Set("email", fixtureEmail)
	form.Set("password", fixturePassword)
	for key, values := range extra {
		for _, value := range values {
			form.Set(key, value)
		}
	}
	request := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return request
}

func sessionCookieFrom(t *testing.T, response *http.Response) *http.Cookie {
	t.Helper()
	for _, cookie := range response.Cookies() {
		if cookie.Name == fixtureCookieName {
			return cookie
		}
	}
	t.Fatalf("expected a %s cookie in response", fixtureCookieName)
	return nil
}

func TestSignInPageRenders(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/signin", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `name="email"`) {
		t.Fatalf("expected sign-in form in body")
	}
}

func TestSignInSubmitSignsInAndRedirects(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, fixture.signInForm(nil))

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if location := recorder.Header().Get("Location"); location != "/dashboard" {
		t.Fatalf("expected redirect to /dashboard, got %q", location)
	}

	cookie := sessionCookieFrom(t, recorder.Result())
	if !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie")
	}

	dashboardRequest := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	dashboardRequest.AddCookie(cookie)
	dashboardRecorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(dashboardRecorder, dashboardRequest)

	if dashboardRecorder.Code != http.StatusOK {
		t.Fatalf("expected dashboard 200, got %d", dashboardRecorder.Code)
	}
	body := dashboardRecorder.Body.String()
	if !strings.Contains(body, "admin@example.com") || !strings.Contains(body, "Administrator") {
		t.Fatalf("expected identity details on dashboard, got: %s", body)
	}
}

func TestSignInFailureShowsUpstreamMessage(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	form := url.Values{}
	form.Set("email", fixtureEmail)
	form.Set("password", "wrong")
	request := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected re-rendered form with 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Invalid user credentials.") {
		t.Fatalf("expected upstream message in body, got: %s", recorder.Body.String())
	}
}

func TestSignInInternalFailureShowsGenericMessage(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{loginStatus: http.StatusOK, loginBody: `{"data": not-json`})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, fixture.signInForm(nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, genericSignInFailure) {
		t.Fatalf("expected generic failure message, got: %s", body)
	}
	if strings.Contains(body, "Failed to process response") {
		t.Fatalf("internal detail leaked to the form: %s", body)
	}
}

func TestSignInSubmitHonorsLocalReturnURL(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, fixture.signInForm(url.Values{"return_url": {"/dashboard?tab=users"}}))

	if location := recorder.Header().Get("Location"); location != "/dashboard?tab=users" {
		t.Fatalf("expected local return url redirect, got %q", location)
	}
}

func TestSignInSubmitRejectsExternalReturnURL(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	for _, hostile := range []string{"https://evil.example", "//evil.example", "/\\evil.example"} {
		recorder := httptest.NewRecorder()
		fixture.router.ServeHTTP(recorder, fixture.signInForm(url.Values{"return_url": {hostile}}))

		if location := recorder.Header().Get("Location"); location != "/dashboard" {
			t.Fatalf("expected %q to be discarded in favor of /dashboard, got %q", hostile, location)
		}
	}
}

func TestRequireAuthenticatedRedirectsAnonymous(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", recorder.Code)
	}
	location := recorder.Header().Get("Location")
	if !strings.HasPrefix(location, "/auth/signin?return_url=") {
		t.Fatalf("expected redirect to sign-in with return url, got %q", location)
	}
	if !strings.Contains(location, url.QueryEscape("/dashboard")) {
		t.Fatalf("expected original destination preserved, got %q", location)
	}
}

func TestRequireAuthenticatedRejectsForgedCookie(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	request := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	request.AddCookie(&http.Cookie{Name: fixtureCookieName, Value: "not-a-signed-cookie"})
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected forged cookie to redirect, got %d", recorder.Code)
	}
}

func TestSignedInUserSkipsSignInPage(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, fixture.signInForm(nil))
	cookie := sessionCookieFrom(t, recorder.Result())

	pageRequest := httptest.NewRequest(http.MethodGet, "/auth/signin", nil)
	pageRequest.AddCookie(cookie)
	pageRecorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(pageRecorder, pageRequest)

	if pageRecorder.Code != http.StatusSeeOther {
		t.Fatalf("expected authenticated visitor to be redirected, got %d", pageRecorder.Code)
	}
	if location := pageRecorder.Header().Get("Location"); location != "/dashboard" {
		t.Fatalf("expected redirect to /dashboard, got %q", location)
	}
}

func TestSignOutClearsCredentials(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, fixture.signInForm(nil))
	cookie := sessionCookieFrom(t, recorder.Result())

	signOutRequest := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	signOutRequest.AddCookie(cookie)
	signOutRecorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(signOutRecorder, signOutRequest)

	if signOutRecorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 after sign-out, got %d", signOutRecorder.Code)
	}
	if location := signOutRecorder.Header().Get("Location"); location != "/auth/signin" {
		t.Fatalf("expected redirect to sign-in, got %q", location)
	}

	dashboardRequest := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	dashboardRequest.AddCookie(cookie)
	dashboardRecorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(dashboardRecorder, dashboardRequest)

	if dashboardRecorder.Code != http.StatusSeeOther {
		t.Fatalf("expected dashboard to reject signed-out session, got %d", dashboardRecorder.Code)
	}
}

func TestSignOutWithoutSessionStillRedirects(t *testing.T) {
	fixture := newWebFixture(t, &upstreamStub{})

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/auth/signout", nil))

	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/auth/signin" {
		t.Fatalf("expected redirect to sign-in, got %q", location)
	}
}
