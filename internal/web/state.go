// Package web serves the server-rendered pages: the searchable patient list
// and the per-patient page with visit history and entry forms.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsheet/internal/domain/patient"
)

const darkModeCookie = "dark_mode"

// UIState is everything a page needs to know about the viewer's session. It
// is rebuilt from the request every time and passed to templates as is.
type UIState struct {
	DarkMode        bool
	SelectedPatient string
	Search          string
	PendingDelete   *patient.PendingDelete
}

// StateFromRequest reads the search term from ?q= and the theme from the
// dark_mode cookie.
func StateFromRequest(c echo.Context) UIState {
	s := UIState{
		Search:          strings.TrimSpace(c.QueryParam("q")),
		SelectedPatient: c.Param("id"),
	}
	if ck, err := c.Cookie(darkModeCookie); err == nil {
		s.DarkMode, _ = strconv.ParseBool(ck.Value)
	}
	return s
}

func setDarkMode(c echo.Context, on bool) {
	c.SetCookie(&http.Cookie{
		Name:     darkModeCookie,
		Value:    strconv.FormatBool(on),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// localPath keeps redirects on this site.
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}
