package theme

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

const cookieMaxAge = 365 * 24 * time.Hour

// cookieBackend reads the preference from the request and writes it to the response.
type cookieBackend struct {
	r *http.Request
	w http.ResponseWriter
}

func (c cookieBackend) Load(key string) (string, bool) {
	cookie, err := c.r.Cookie(key)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (c cookieBackend) Save(key, value string) {
	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieStore returns a store persisting the preference in a cookie of the given request.
func CookieStore(w http.ResponseWriter, r *http.Request) *Store {
	return NewStore(cookieBackend{r: r, w: w})
}

type Handler struct{}

// ServeHTTP answers GET with the current theme. POST sets the theme from the
// `theme` form value, or toggles it if the value is missing.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	store := CookieStore(w, r)
	var t Theme
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		t = store.Get()
	case http.MethodPost:
		if v := r.FormValue("theme"); v != "" {
			t = Parse(v)
			store.Set(t)
		} else {
			t = store.Toggle()
		}
		hlog.FromRequest(r).Debug().Str("theme", string(t)).Msg("Theme changed")
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(map[string]Theme{"theme": t})
}
