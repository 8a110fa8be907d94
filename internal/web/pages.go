package web

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	webassets "github.com/tyemirov/cmsadmin/web"
)

var pageTemplates = template.Must(template.ParseFS(webassets.FS, "*.html"))

type signInPageData struct {
	ErrorMessage string
	Email        string
	ReturnURL    string
}

type dashboardPageData struct {
	DisplayName string
	Email       string
	RoleName    string
	ExpiresAt   string
}

func renderSignIn(contextGin *gin.Context, status int, data signInPageData) {
	renderPage(contextGin, status, "signin.html", data)
}

func renderDashboard(contextGin *gin.Context, data dashboardPageData) {
	renderPage(contextGin, http.StatusOK, "dashboard.html", data)
}

func renderPage(contextGin *gin.Context, status int, name string, data any) {
	contextGin.Status(status)
	contextGin.Header("Content-Type", "text/html; charset=utf-8")
	if executeErr := pageTemplates.ExecuteTemplate(contextGin.Writer, name, data); executeErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}
