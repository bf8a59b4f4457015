package http

import (
	"io/fs"
	"net/http"
)

type sessionChecker interface {
	ProfileID(token string) (string, error)
}

func NewFileServerHandler(auth sessionChecker, assets fs.FS) http.HandlerFunc {
	fileServer := http.FileServer(http.FS(assets))

	return func(w http.ResponseWriter, r *http.Request) {
		// For / and /index.html check for a valid token and redirect to login if not found.
		if r.URL.Path == "/" || r.URL.Path == "/index.html" {
			cookie, err := r.Cookie("token")
			if err != nil || cookie.Value == "" {
				http.Redirect(w, r, "/login.html", http.StatusFound)
				return
			}

			if _, err := auth.ProfileID(cookie.Value); err != nil {
				http.Redirect(w, r, "/login.html", http.StatusFound)
				return
			}
		}

		fileServer.ServeHTTP(w, r)
	}
}
