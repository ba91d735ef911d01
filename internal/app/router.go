package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bastion-iam/bastion/internal/access"
	"github.com/bastion-iam/bastion/internal/admin"
	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/observability"
	"github.com/bastion-iam/bastion/internal/orgunit"
	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/sdset"
	"github.com/bastion-iam/bastion/internal/session"
	"github.com/bastion-iam/bastion/internal/users"
	"github.com/bastion-iam/bastion/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	RolesHandler   *roles.Handler
	UsersHandler   *users.Handler
	PermsHandler   *perms.Handler
	SDSetHandler   *sdset.Handler
	OrgUnitHandler *orgunit.Handler
	SessionHandler *session.Handler
	AccessHandler  *access.Handler
	AdminHandler   *admin.Handler
	AuditHandler   *audit.Handler
	JobHandler     *jobs.Handler

	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// NewRouter constructs the chi.Router with engine defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.Pool, params.Redis))

	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/admin-roles", params.RolesHandler.MountAdminRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.PermsHandler != nil {
		r.Route("/perms", params.PermsHandler.MountRoutes)
	}
	if params.SDSetHandler != nil {
		r.Route("/ssd", func(r chi.Router) {
			params.SDSetHandler.MountRoutes(r, sdset.TypeStatic)
		})
		r.Route("/dsd", func(r chi.Router) {
			params.SDSetHandler.MountRoutes(r, sdset.TypeDynamic)
		})
	}
	if params.OrgUnitHandler != nil {
		r.Route("/user-ous", func(r chi.Router) {
			params.OrgUnitHandler.MountRoutes(r, orgunit.TypeUser)
		})
		r.Route("/perm-ous", func(r chi.Router) {
			params.OrgUnitHandler.MountRoutes(r, orgunit.TypePerm)
		})
	}
	if params.SessionHandler != nil {
		r.Route("/sessions", params.SessionHandler.MountRoutes)
	}
	if params.AccessHandler != nil {
		r.Route("/access", params.AccessHandler.MountRoutes)
	}
	if params.AdminHandler != nil {
		r.Route("/admin", params.AdminHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// healthHandler pings both stores and names the one that is down.
func healthHandler(pool *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","postgres":"down"}`))
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","redis":"down"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
