package main

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/csrf"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	turnstile "github.com/Severino/cloudflare-turnstile-comply"
	"github.com/Severino/cloudflare-turnstile-comply/internal/integration"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html", "templates/layout.html"))
	formTmpl  = template.Must(template.ParseFS(templateFS, "templates/form.html", "templates/layout.html"))
)

// serverConfig carries the HTTP settings the router needs.
type serverConfig struct {
	CSRFKey       []byte
	SecureCookies bool
	TrustProxy    bool
	RateLimit     float64
	RateBurst     int
}

type server struct {
	svc   *turnstile.Service
	forms *integration.Registry
	log   logrus.FieldLogger
}

type formPage struct {
	Title     string
	Name      string
	FormID    string
	Widget    template.HTML
	CSRFField template.HTML
	Values    map[string]string
	Error     string
	Success   bool
}

// newRouter builds the demo site: HTML forms guarded by their integration
// adapters and a JSON API guarded by the middleware.
func newRouter(cfg serverConfig, svc *turnstile.Service, forms *integration.Registry, log *logrus.Logger) http.Handler {
	s := &server{svc: svc, forms: forms, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	formRouter := r.PathPrefix("/forms").Subrouter()
	formRouter.Use(csrf.Protect(cfg.CSRFKey,
		csrf.Secure(cfg.SecureCookies),
		csrf.Path("/forms"),
		csrf.FieldName("csrf_token"),
	))
	formRouter.HandleFunc("/{name}", s.showForm).Methods(http.MethodGet)
	formRouter.HandleFunc("/{name}", s.submitForm).Methods(http.MethodPost)

	mwOpts := []turnstile.MiddlewareOption{
		turnstile.WithMiddlewareLogger(log),
		turnstile.WithStrictAction(),
	}
	if cfg.RateLimit > 0 {
		mwOpts = append(mwOpts, turnstile.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	api := r.PathPrefix("/api").Subrouter()
	api.Use(turnstile.Middleware(svc, "search", mwOpts...))
	api.HandleFunc("/search", s.search).Methods(http.MethodPost)

	// ProxyHeaders rewrites RemoteAddr, so the middleware keys its rate
	// limit on the forwarded client address without parsing headers itself.
	var h http.Handler = r
	if cfg.TrustProxy {
		h = handlers.ProxyHeaders(h)
	}
	h = otelhttp.NewHandler(h, serviceName)
	h = gziphandler.GzipHandler(h)
	h = handlers.CombinedLoggingHandler(log.WriterLevel(logrus.InfoLevel), h)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(log), handlers.PrintRecoveryStack(true))(h)
}

func (s *server) index(w http.ResponseWriter, r *http.Request) {
	page := turnstile.NewPage()
	data := struct {
		Title  string
		Forms  []string
		Widget template.HTML
	}{
		Title: "Turnstile forms",
		Forms: s.forms.Names(),
	}
	if cfg, err := s.svc.Settings(); err == nil && cfg.Configured() {
		data.Widget = s.svc.Widget(page, turnstile.WidgetConfig{
			Action:         "search",
			DOMID:          "-search",
			SubmitSelector: "#search-submit",
		}, s.svc.Consent(r))
	}
	s.renderHTML(w, http.StatusOK, indexTmpl, data)
}

func (s *server) showForm(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapter(w, r)
	if !ok {
		return
	}
	s.renderForm(w, r, adapter, formID(r), http.StatusOK, formPage{
		Success: r.URL.Query().Get("sent") == "1",
	})
}

func (s *server) submitForm(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapter(w, r)
	if !ok {
		return
	}
	id := formID(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}

	d := adapter.Verify(r.Context(), r, id)
	if !d.Accept {
		s.renderForm(w, r, adapter, id, http.StatusBadRequest, formPage{
			Error: d.Message,
			Values: map[string]string{
				"name":    r.PostFormValue("name"),
				"message": r.PostFormValue("message"),
			},
		})
		return
	}

	s.log.WithFields(logrus.Fields{
		"form":    adapter.Name(),
		"id":      id,
		"skipped": d.Skipped,
	}).Info("form submission accepted")
	q := url.Values{"id": {id}, "sent": {"1"}}
	http.Redirect(w, r, "/forms/"+adapter.Name()+"?"+q.Encode(), http.StatusSeeOther)
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"q"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"status":  "bad_request",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "search_success",
		"query":   req.Query,
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	cfg, err := s.svc.Settings()
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "settings_unavailable"
	} else {
		body["configured"] = cfg.Configured()
	}
	writeJSON(w, status, body)
}

func (s *server) adapter(w http.ResponseWriter, r *http.Request) (integration.Adapter, bool) {
	a, ok := s.forms.Get(mux.Vars(r)["name"])
	if !ok {
		http.NotFound(w, r)
	}
	return a, ok
}

func (s *server) renderForm(w http.ResponseWriter, r *http.Request, a integration.Adapter, id string, status int, data formPage) {
	data.Title = a.Name()
	data.Name = a.Name()
	data.FormID = id
	data.CSRFField = csrf.TemplateField(r)
	data.Widget = a.Render(turnstile.NewPage(), r, id)
	s.renderHTML(w, status, formTmpl, data)
}

func (s *server) renderHTML(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		s.log.WithError(err).WithField("template", t.Name()).Error("render page")
	}
}

func formID(r *http.Request) string {
	if id := r.URL.Query().Get("id"); id != "" {
		return id
	}
	return "1"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
