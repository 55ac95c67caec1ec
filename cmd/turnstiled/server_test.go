package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	turnstile "github.com/Severino/cloudflare-turnstile-comply"
	"github.com/Severino/cloudflare-turnstile-comply/internal/policy"
)

type testSite struct {
	handler http.Handler
	calls   *atomic.Int32
}

func newTestSite(t *testing.T, siteverifyBody string, cfg turnstile.TurnstileConfig) testSite {
	t.Helper()
	return newTestSiteWith(t, siteverifyBody, cfg, serverConfig{RateLimit: 100, RateBurst: 100})
}

func newTestSiteWith(t *testing.T, siteverifyBody string, cfg turnstile.TurnstileConfig, srv serverConfig) testSite {
	t.Helper()
	calls := &atomic.Int32{}
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, siteverifyBody)
	}))
	t.Cleanup(stub.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := turnstile.NewStaticService(cfg,
		turnstile.WithEndpoint(stub.URL, 0),
		turnstile.WithServiceLogger(log),
	)
	forms, err := newForms(svc)
	require.NoError(t, err)

	srv.CSRFKey = []byte("0123456789abcdef0123456789abcdef")
	h := newRouter(srv, svc, forms, log)
	return testSite{handler: h, calls: calls}
}

func siteKeys() turnstile.TurnstileConfig {
	return turnstile.TurnstileConfig{SiteKey: "1x00000000000000000000AA", Secret: "1x0000000000000000000000000000000AA"}
}

func (s testSite) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// postForm fetches the form first so the submission carries a valid CSRF
// cookie and token.
func (s testSite) postForm(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	page := s.get(t, path)
	require.Equal(t, http.StatusOK, page.Code)
	doc, err := goquery.NewDocumentFromReader(page.Body)
	require.NoError(t, err)
	token, ok := doc.Find(`input[name="csrf_token"]`).Attr("value")
	require.True(t, ok)
	values.Set("csrf_token", token)

	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range page.Result().Cookies() {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	site := newTestSite(t, `{"success":true}`, siteKeys())

	rec := site.get(t, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["configured"])
}

func TestIndexListsForms(t *testing.T) {
	site := newTestSite(t, `{"success":true}`, siteKeys())

	rec := site.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Find("ul li a").Length())
	assert.Equal(t, "search", doc.Find("div.cf-turnstile").AttrOr("data-action", ""))
}

func TestFormPageRendersWidget(t *testing.T) {
	site := newTestSite(t, `{"success":true}`, siteKeys())

	rec := site.get(t, "/forms/contact?id=9")

	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	div := doc.Find("div.cf-turnstile")
	require.Equal(t, 1, div.Length())
	assert.Equal(t, "cf-turnstile-contact-9", div.AttrOr("id", ""))
	assert.Equal(t, "contact", div.AttrOr("data-action", ""))
	assert.Equal(t, 1, doc.Find(`script[src^="https://challenges.cloudflare.com/turnstile/v0/api.js"]`).Length())
	assert.Equal(t, 1, doc.Find(`input[name="csrf_token"]`).Length())
}

func TestFormPageHonorsSuppressionList(t *testing.T) {
	cfg := siteKeys().WithIntegration("contact", policy.Integration{Enabled: true, Disabled: "3, 9"})
	site := newTestSite(t, `{"success":true}`, cfg)

	rec := site.get(t, "/forms/contact?id=9")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "cf-turnstile-contact-9")
}

func TestUnknownForm(t *testing.T) {
	site := newTestSite(t, `{"success":true}`, siteKeys())

	assert.Equal(t, http.StatusNotFound, site.get(t, "/forms/checkout").Code)
}

func TestFormSubmissionRejected(t *testing.T) {
	site := newTestSite(t, `{"success":false,"error-codes":["invalid-input-response"]}`, siteKeys())

	rec := site.postForm(t, "/forms/contact?id=2", url.Values{
		"name":               {"Ada"},
		turnstile.TokenField: {"tok"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultFailedMessage, doc.Find(".cf-turnstile-error").Text())
	assert.Equal(t, "Ada", doc.Find(`input[name="name"]`).AttrOr("value", ""))
	assert.Equal(t, int32(1), site.calls.Load())
}

func TestFormSubmissionAccepted(t *testing.T) {
	site := newTestSite(t, `{"success":true}`, siteKeys())

	rec := site.postForm(t, "/forms/login", url.Values{turnstile.TokenField: {"tok"}})

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forms/login?id=1&sent=1", rec.Header().Get("Location"))
	assert.Equal(t, int32(1), site.calls.Load())
}

func TestFormSubmissionWithoutCSRFToken(t *testing.T) {
	site := newTestSite(t, `{"success":true}`, siteKeys())

	r := httptest.NewRequest(http.MethodPost, "/forms/login", strings.NewReader(turnstile.TokenField+"=tok"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	site.handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int32(0), site.calls.Load())
}

func TestSearchAPI(t *testing.T) {
	site := newTestSite(t, `{"success":true,"action":"search"}`, siteKeys())

	missing := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"q":"captcha"}`))
	r.Header.Set("Content-Type", "application/json")
	site.handler.ServeHTTP(missing, r)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Contains(t, missing.Body.String(), "token_missing")

	ok := httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"q":"captcha","token":"tok"}`))
	r.Header.Set("Content-Type", "application/json")
	site.handler.ServeHTTP(ok, r)
	require.Equal(t, http.StatusOK, ok.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ok.Body.Bytes(), &body))
	assert.Equal(t, "captcha", body["query"])
	assert.Equal(t, int32(1), site.calls.Load())
}

func TestNewFormsRegistersAdapters(t *testing.T) {
	svc := turnstile.NewStaticService(siteKeys())

	reg, err := newForms(svc)

	require.NoError(t, err)
	assert.Equal(t, []string{"comments", "contact", "login"}, reg.Names())
	_, ok := reg.Get("login")
	assert.True(t, ok)
}

func TestSearchRateLimitUsesForwardedClient(t *testing.T) {
	site := newTestSiteWith(t, `{"success":true,"action":"search"}`, siteKeys(), serverConfig{
		TrustProxy: true,
		RateLimit:  0.001,
		RateBurst:  1,
	})
	search := func(forwardedFor string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"q":"x","token":"tok"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		site.handler.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, search("203.0.113.1"))
	assert.Equal(t, http.StatusOK, search("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, search("203.0.113.1"))
	assert.Equal(t, int32(2), site.calls.Load())
}
