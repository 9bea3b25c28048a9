package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Tyav/anymessage/internal/domain"
	"github.com/Tyav/anymessage/internal/repository"
	"github.com/Tyav/anymessage/internal/service/team"
)

type tenantContextKey string

const contextKeyTenant tenantContextKey = "anymessage-tenant-info"

// withTenant resolves the Origin host's leading label to the tenant the
// authenticated user belongs to and attaches it to the context. The
// reserved root label and requests without an Origin proceed without a
// tenant. An unmatched tenant/user pair stops the chain with a bare 403.
func (r *Router) withTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		info, ok := authInfoFromContext(req.Context())
		if !ok {
			r.logger.Error("auth context missing for tenant resolution", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "authorization context missing")
			return
		}
		sub := subdomainFromOrigin(req.Header.Get("Origin"))
		if sub == "" || sub == domain.ReservedSubdomain {
			next(w, req)
			return
		}
		tenant, err := r.team.ResolveTenant(req.Context(), sub, info.Email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.logger.Warn("tenant resolution denied", "subdomain", sub, "user_id", info.UserID)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			r.logger.Error("tenant resolution failed", "subdomain", sub, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyTenant, *tenant)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// tenantFromContext extracts the resolved tenant from context.
func tenantFromContext(ctx context.Context) (domain.TenantInfo, bool) {
	value := ctx.Value(contextKeyTenant)
	if value == nil {
		return domain.TenantInfo{}, false
	}
	tenant, ok := value.(domain.TenantInfo)
	return tenant, ok
}

// subdomainFromOrigin extracts the candidate tenant label from an Origin
// header of the form scheme://host[:port].
func subdomainFromOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	host := origin
	if idx := strings.Index(origin, "://"); idx >= 0 {
		host = origin[idx+len("://"):]
	}
	return team.SubdomainFromHost(host)
}
