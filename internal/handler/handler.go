package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"boacid/internal/accounts"
	"boacid/internal/auth"
	"boacid/internal/issuance"
)

// Config holds the session and surface settings the handlers need.
type Config struct {
	JWTIssuer     string
	JWTSigningKey string
	SessionTTL    time.Duration
	SecureCookies bool
	AllowSignup   bool
	// UploadDir is served at /uploads when photos are stored locally.
	UploadDir string
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	cfg      Config
	ids      *issuance.Service
	accounts *accounts.Service
	revoker  auth.Revoker
	checks   map[string]HealthCheck
	log      zerolog.Logger
}

func New(cfg Config, ids *issuance.Service, accts *accounts.Service, revoker auth.Revoker, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		ids:      ids,
		accounts: accts,
		revoker:  revoker,
		checks:   make(map[string]HealthCheck),
		log:      log,
	}
}

// AddHealthCheck registers a named dependency check for /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Register mounts every route. loginLimit guards /login and /signup and may be nil.
func (h *Handler) Register(r gin.IRouter, loginLimit gin.HandlerFunc) {
	limited := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		if loginLimit == nil {
			return []gin.HandlerFunc{hf}
		}
		return []gin.HandlerFunc{loginLimit, hf}
	}

	r.GET("/healthz", h.Healthz)
	r.POST("/signup", limited(h.Signup)...)
	r.POST("/login", limited(h.Login)...)

	staff := r.Group("", auth.StaffAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer, h.revoker))
	staff.POST("/logout", h.Logout)
	if h.cfg.UploadDir != "" {
		staff.Static("/uploads", h.cfg.UploadDir)
	}

	v1 := staff.Group("/v1")
	{
		v1.GET("/me", h.Me)
		v1.POST("/ids", h.IssueID)
		v1.GET("/ids", h.ListIDs)
		v1.GET("/ids/preview", h.Preview)
		v1.GET("/ids/qr.png", h.QRCode)
		v1.GET("/ids/batch", h.Batch)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// fail logs err against the request and writes a JSON error.
func fail(c *gin.Context, status int, msg string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
