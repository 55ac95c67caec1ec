// Command turnstiled serves HTML forms and a JSON API protected by Cloudflare
// Turnstile, driven by a hot-reloaded settings file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gopkg.in/alecthomas/kingpin.v2"

	turnstile "github.com/Severino/cloudflare-turnstile-comply"
	"github.com/Severino/cloudflare-turnstile-comply/internal/config"
	"github.com/Severino/cloudflare-turnstile-comply/internal/integration"
	"github.com/Severino/cloudflare-turnstile-comply/internal/logging"
	"github.com/Severino/cloudflare-turnstile-comply/internal/policy"
	"github.com/Severino/cloudflare-turnstile-comply/internal/telemetry"
	"github.com/Severino/cloudflare-turnstile-comply/internal/verifier"
)

const serviceName = "turnstiled"

var version = "dev"

var (
	app = kingpin.New(serviceName, "Cloudflare Turnstile form protection server.")

	listenAddr    = app.Flag("listen", "Address the HTTP server listens on.").Default(":8080").Envar("TURNSTILE_LISTEN").String()
	settingsPath  = app.Flag("settings", "Path to the JSON settings file.").Default("turnstile.json").Envar("TURNSTILE_SETTINGS").String()
	siteverifyURL = app.Flag("siteverify-url", "Siteverify endpoint.").Default(verifier.DefaultEndpoint).Envar("TURNSTILE_SITEVERIFY_URL").String()
	logLevel      = app.Flag("log-level", "Log level.").Default("info").Envar("LOG_LEVEL").String()
	logFormat     = app.Flag("log-format", "Log format (text or json).").Default("text").Envar("LOG_FORMAT").Enum("text", "json")
	otlpEndpoint  = app.Flag("otlp-endpoint", "OTLP/HTTP traces endpoint; empty disables tracing.").Envar("OTEL_EXPORTER_OTLP_ENDPOINT").String()
	trustProxy    = app.Flag("trust-proxy", "Trust X-Forwarded-For for client addresses.").Envar("TURNSTILE_TRUST_PROXY").Bool()
	secureCookies = app.Flag("secure-cookies", "Mark CSRF cookies Secure.").Envar("TURNSTILE_SECURE_COOKIES").Bool()
	rateLimit     = app.Flag("rate-limit", "API verifications per second per client IP; 0 disables.").Default("2").Float64()
	rateBurst     = app.Flag("rate-burst", "API verification burst per client IP.").Default("5").Int()
)

// options is the parsed command line.
type options struct {
	Listen        string
	Settings      string
	SiteverifyURL string
	Log           logging.Config
	OTLPEndpoint  string
	Server        serverConfig
}

func main() {
	_ = godotenv.Load()

	app.Version(version)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	opts := options{
		Listen:        *listenAddr,
		Settings:      *settingsPath,
		SiteverifyURL: *siteverifyURL,
		Log:           logging.Config{Level: *logLevel, Format: *logFormat},
		OTLPEndpoint:  *otlpEndpoint,
		Server: serverConfig{
			SecureCookies: *secureCookies,
			TrustProxy:    *trustProxy,
			RateLimit:     *rateLimit,
			RateBurst:     *rateBurst,
		},
	}

	fx.New(
		fx.Supply(opts),
		fx.Provide(
			newLogger,
			config.Default,
			newSettings,
			newService,
			newForms,
			newHandler,
		),
		fx.Invoke(
			func(log *logrus.Logger, cm *config.Manager) {
				log.WithFields(logrus.Fields{
					"version": version,
					"config":  cm.SourceName(),
				}).Infof("starting %s", serviceName)
			},
			setupTelemetry,
			registerWebServer,
		),
	).Run()
}

func newLogger(opts options) (*logrus.Logger, error) {
	return logging.New(opts.Log)
}

// newSettings resolves the secret reference in the settings file through the
// configured config source (environment or Vault).
func newSettings(opts options, cm *config.Manager, log *logrus.Logger) policy.Provider {
	return policy.NewStore(opts.Settings, cm, log.WithField("component", "settings"))
}

func newService(opts options, settings policy.Provider, log *logrus.Logger) *turnstile.Service {
	return turnstile.NewService(settings,
		turnstile.WithEndpoint(opts.SiteverifyURL, verifier.DefaultTimeout),
		turnstile.WithServiceLogger(log.WithField("component", "turnstile")),
	)
}

// newForms registers the adapters for the forms the server hosts.
func newForms(svc *turnstile.Service) (*integration.Registry, error) {
	reg := turnstile.NewRegistry()
	for _, a := range []turnstile.Adapter{
		svc.NewFormAdapter("login", turnstile.WithFormSubmitSelector("#login-submit")),
		svc.NewFormAdapter("contact", turnstile.WithFormAction("contact"), turnstile.WithFormSubmitSelector("#contact-submit")),
		svc.NewFormAdapter("comments", turnstile.WithFormAction("comment"), turnstile.WithFormSubmitSelector("#comments-submit")),
	} {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newHandler(opts options, cm *config.Manager, svc *turnstile.Service, forms *integration.Registry, log *logrus.Logger) (http.Handler, error) {
	cfg := opts.Server
	key, err := csrfKey(cm, log)
	if err != nil {
		return nil, err
	}
	cfg.CSRFKey = key
	return newRouter(cfg, svc, forms, log), nil
}

// csrfKey reads CSRF_KEY (32 bytes) or generates a per-process key, which
// invalidates open forms on restart.
func csrfKey(cm *config.Manager, log logrus.FieldLogger) ([]byte, error) {
	if key := cm.GetDefault("CSRF_KEY", ""); key != "" {
		if len(key) != 32 {
			return nil, fmt.Errorf("CSRF_KEY must be 32 bytes, got %d", len(key))
		}
		return []byte(key), nil
	}
	log.Warn("CSRF_KEY not set, generating a random key")
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		return nil, errors.New("could not generate CSRF key")
	}
	return key, nil
}

func setupTelemetry(lc fx.Lifecycle, opts options, log *logrus.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, serviceName, version, opts.OTLPEndpoint, log)
			if err != nil {
				log.WithError(err).Warn("tracing disabled")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

func registerWebServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, opts options, handler http.Handler, log *logrus.Logger) {
	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.WithField("addr", opts.Listen).Info("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("http server failed")
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
