package courseware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/ratelimit"
	"github.com/kuitang/coursewalk/internal/urlutil"
)

// Config configures a courseware Server.
type Config struct {
	AppPath        string // e.g. "/runestone"; empty mounts at the root
	DataDir        string
	DBKey          string
	ProvisionDelay time.Duration
	RateLimit      ratelimit.Config
	Hasher         PasswordHasher // defaults to Argon2Hasher
	SecureCookies  bool // force Secure cookies even on plain-HTTP requests
}

// Server is the courseware HTTP application.
type Server struct {
	cfg         Config
	store       *Store
	renderer    *Renderer
	provisioner *Provisioner
	limiter     *ratelimit.RateLimiter
	handler     http.Handler
}

// New opens the store, resumes unfinished course builds and assembles routes.
// Close releases everything New started.
func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.AppPath = urlutil.NormalizeMountPath(cfg.AppPath)
	if cfg.Hasher == nil {
		cfg.Hasher = Argon2Hasher{}
	}
	if cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit = ratelimit.DefaultConfig
	}

	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.DataDir, cfg.DBKey)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		store:       store,
		renderer:    renderer,
		provisioner: NewProvisioner(store, cfg.ProvisionDelay),
		limiter:     ratelimit.NewRateLimiter(cfg.RateLimit),
	}
	if err := s.provisioner.Resume(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("resume course builds: %w", err)
	}
	s.handler = s.routes()

	obs.Pkg("courseware").Info("courseware_ready", "app_path", cfg.AppPath, "data_dir", cfg.DataDir, "encrypted", cfg.DBKey != "")
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	app := s.cfg.AppPath
	limited := func(h http.HandlerFunc) http.Handler {
		return ratelimit.PostMiddleware(s.limiter, h)
	}

	mux.HandleFunc("GET "+app+"/default/user/register", s.handleRegisterForm)
	mux.Handle("POST "+app+"/default/user/register", limited(s.handleRegister))
	mux.HandleFunc("GET "+app+"/default/user/login", s.handleLoginForm)
	mux.Handle("POST "+app+"/default/user/login", limited(s.handleLogin))
	mux.HandleFunc("GET "+app+"/default/user/logout", s.handleLogout)
	mux.HandleFunc("GET "+app+"/default/user/profile", s.requireUser(s.handleProfile))

	mux.HandleFunc("GET "+app+"/designer", s.requireUser(s.handleDesignerForm))
	mux.Handle("POST "+app+"/designer", limited(s.requireUser(s.handleDesigner)))
	mux.HandleFunc("GET "+app+"/designer/status/{course}", s.handleCourseStatus)

	mux.HandleFunc("GET "+app+"/static/{course}/{page}", s.handleCoursePage)
	mux.HandleFunc("GET "+app+"/static/{course}/{$}", s.handleCourseRoot)

	mux.HandleFunc("POST "+app+"/ajax/saveprog", s.requireUserJSON(s.handleSaveProgram))
	mux.HandleFunc("GET "+app+"/ajax/getprog", s.requireUserJSON(s.handleLoadProgram))

	mux.HandleFunc("GET /health", s.handleHealth)

	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("courseware", mux))
}

// Handler returns the application handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store exposes the database for fixtures that seed state directly.
func (s *Server) Store() *Store {
	return s.store
}

// Close stops background workers and closes the database.
func (s *Server) Close() error {
	s.provisioner.Stop()
	s.limiter.Stop()
	return s.store.Close()
}
