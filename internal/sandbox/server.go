// Package sandbox is an in-process reference backend for the admin REST
// contract. It serves any number of ordered collections over chi, keeps
// them in SQLite through gorm, and issues HS256 session tokens.
//
// It exists for tests and for rehearsing changes locally; it implements the
// contract, not the real marketplace's business rules.
package sandbox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/ordering"
)

// Default credentials accepted by the login route.
const (
	DefaultEmail    = "admin@example.com"
	DefaultPassword = "admin"
)

type Options struct {
	// DSN is the SQLite database. Empty means a private in-memory database.
	DSN string

	Scopes    []config.Scope
	LoginPath string

	Email    string
	Password string

	// Secret signs session tokens. Empty generates a random one.
	Secret   []byte
	TokenTTL time.Duration

	// Envelope wraps list and entity responses in {"data":...}.
	Envelope bool

	Logger *logger.Logger
	Now    func() time.Time
}

type scopeRoute struct {
	config.Scope
}

// Server is the sandbox backend. It is safe for concurrent use.
type Server struct {
	db     *gorm.DB
	repo   *repository
	router chi.Router
	log    *logger.Logger

	scopes    map[string]scopeRoute
	loginPath string
	email     string
	password  string
	secret    []byte
	tokenTTL  time.Duration
	envelope  bool
	now       func() time.Time

	seq atomic.Int64

	mu       sync.Mutex
	failures map[string][]injectedFailure
	after    map[string][]func()
	requests []Request
}

// New opens the sandbox database, migrates it and builds the router.
func New(opts Options) (*Server, error) {
	if len(opts.Scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}

	dsn := opts.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sandbox db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sandbox db: %w", err)
	}
	// A single connection keeps an in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entityModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sandbox db: %w", err)
	}

	s := &Server{
		db:        db,
		repo:      &repository{db: db},
		log:       opts.Logger,
		scopes:    map[string]scopeRoute{},
		loginPath: opts.LoginPath,
		email:     opts.Email,
		password:  opts.Password,
		secret:    opts.Secret,
		tokenTTL:  opts.TokenTTL,
		envelope:  opts.Envelope,
		now:       opts.Now,
		failures:  map[string][]injectedFailure{},
		after:     map[string][]func(){},
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.loginPath == "" {
		s.loginPath = "/auth/login"
	}
	if s.email == "" {
		s.email = DefaultEmail
	}
	if s.password == "" {
		s.password = DefaultPassword
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 12 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}

	for _, sc := range opts.Scopes {
		if sc.Name == "" || !strings.HasPrefix(sc.Path, "/") {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("scope %q: name and absolute path required", sc.Name)
		}
		s.scopes[sc.Name] = scopeRoute{Scope: sc}
	}

	seq, err := s.repo.maxSeq(context.Background())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("read sandbox seq: %w", err)
	}
	s.seq.Store(seq)

	s.router = s.routes()
	return s, nil
}

// ScopesFromConfig returns every configured scope with its name set.
func ScopesFromConfig(cfg *config.Config) []config.Scope {
	out := make([]config.Scope, 0, len(cfg.Scopes))
	for _, name := range cfg.ScopeNames() {
		sc, _ := cfg.Scope(name)
		out = append(out, sc)
	}
	return out
}

// Handler returns the HTTP handler serving the REST contract.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the database.
func (s *Server) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recordMiddleware)
	r.Use(s.injectMiddleware)

	r.Post(s.loginPath, s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		for _, sc := range s.scopes {
			sc := sc
			item := strings.TrimRight(sc.Path, "/") + "/{id}"

			r.Get(sc.Path, s.handleList(sc))
			r.Post(sc.Path, s.handleCreate(sc))
			r.Patch(item, s.handleUpdate(sc))
			r.Delete(item, s.handleDelete(sc))
			r.Method(sc.Reorder.Method, sc.Reorder.Path, s.handleReorder(sc))
		}
	})

	return r
}

func (s *Server) lookup(scope string) (scopeRoute, error) {
	sc, ok := s.scopes[scope]
	if !ok {
		return scopeRoute{}, fmt.Errorf("unknown scope %q", scope)
	}
	return sc, nil
}

// Seed replaces the contents of scope. Entities without an id get a uuid v7.
func (s *Server) Seed(ctx context.Context, scope string, entities []ordering.Entity) error {
	sc, err := s.lookup(scope)
	if err != nil {
		return err
	}
	rows := make([]entityModel, 0, len(entities))
	for _, e := range entities {
		id := e.ID
		if id == "" {
			id = newID()
		}
		isActive := e.IsActive
		if isActive == nil && sc.ActiveCap > 0 {
			isActive = ordering.Bool(false)
		}
		rows = append(rows, entityModel{
			Scope:    sc.Name,
			ID:       id,
			Name:     e.Name,
			Order:    e.Order,
			IsActive: isActive,
			Seq:      s.seq.Add(1),
		})
	}
	return s.repo.replace(ctx, sc.Name, rows)
}

// Entities returns the stored contents of scope in server order.
func (s *Server) Entities(ctx context.Context, scope string) ([]ordering.Entity, error) {
	sc, err := s.lookup(scope)
	if err != nil {
		return nil, err
	}
	return s.repo.list(ctx, sc.Name)
}

// Apply writes placements directly, as another administrator would.
func (s *Server) Apply(ctx context.Context, scope string, placements []ordering.Placement) error {
	sc, err := s.lookup(scope)
	if err != nil {
		return err
	}
	return s.repo.reorder(ctx, sc.Name, placements)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
