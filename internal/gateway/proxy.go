package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// Identity headers set for upstream services. Client-supplied copies are
// always removed.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
)

var identityHeaders = []string{HeaderUserID, HeaderUserEmail, HeaderUserRoles}

// route is one configured path prefix with its prepared handler chain.
type route struct {
	prefix   string
	upstream *url.URL
	public   bool
	handler  http.Handler
}

// matches reports whether path falls under the route's prefix. A prefix
// only matches on a segment boundary.
func (rt *route) matches(path string) bool {
	if !strings.HasPrefix(path, rt.prefix) {
		return false
	}
	return len(path) == len(rt.prefix) ||
		strings.HasSuffix(rt.prefix, "/") ||
		path[len(rt.prefix)] == '/'
}

// canonicalPath reports whether the decoded path has no "." or ".."
// segments (also with ;params), no backslashes and no escapes left after
// decoding, as double encoding would leave behind.
func canonicalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.ContainsRune(p, '\\') {
		return false
	}
	lower := strings.ToLower(p)
	for _, esc := range []string{"%2e", "%2f", "%5c"} {
		if strings.Contains(lower, esc) {
			return false
		}
	}
	for _, seg := range strings.Split(p, "/") {
		seg, _, _ = strings.Cut(seg, ";")
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// Router forwards requests to the upstream with the longest matching path
// prefix. Non-public routes run the authenticator and, when the route lists
// roles, a role check before the request is proxied.
type Router struct {
	routes []*route
	logger *logging.Logger
}

// NewRouter builds a Router from the configured routes.
func NewRouter(routes []config.RouteConfig, authn *access.Authenticator, logger *logging.Logger) (*Router, error) {
	rt := &Router{logger: logger.With("component", "gateway")}

	for i, rc := range routes {
		upstream, err := url.Parse(rc.Upstream)
		if err != nil || upstream.Scheme == "" || upstream.Host == "" {
			return nil, fmt.Errorf("route %d (%s): invalid upstream %q", i, rc.PathPrefix, rc.Upstream)
		}
		if !strings.HasPrefix(rc.PathPrefix, "/") {
			return nil, fmt.Errorf("route %d: path prefix %q must start with /", i, rc.PathPrefix)
		}

		r := &route{prefix: rc.PathPrefix, upstream: upstream, public: rc.Public}
		var handler http.Handler = rt.proxy(r)
		if !rc.Public {
			if authn == nil {
				return nil, fmt.Errorf("route %s requires authentication but no authenticator is configured", rc.PathPrefix)
			}
			handler = access.Chain(handler, authn.Middleware, access.RequireRoles(rc.Roles...))
		}
		r.handler = handler
		rt.routes = append(rt.routes, r)
	}

	sort.SliceStable(rt.routes, func(i, j int) bool {
		return len(rt.routes[i].prefix) > len(rt.routes[j].prefix)
	})
	return rt, nil
}

// ServeHTTP dispatches to the matching route or answers 404. Paths an
// upstream could normalise into a different route are refused with 400
// before any route is matched.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !canonicalPath(r.URL.Path) {
		rt.logger.Warn("non-canonical path rejected",
			"path", r.URL.EscapedPath(),
			"request_id", access.RequestIDFromContext(r.Context()),
		)
		access.WriteError(w, http.StatusBadRequest, access.CodeBadRequest, "invalid request path")
		return
	}
	for _, route := range rt.routes {
		if route.matches(r.URL.Path) {
			route.handler.ServeHTTP(w, r)
			return
		}
	}
	access.WriteError(w, http.StatusNotFound, access.CodeNotFound, "no route for path")
}

func (rt *Router) proxy(r *route) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(r.upstream)
			pr.SetXForwarded()

			for _, h := range identityHeaders {
				pr.Out.Header.Del(h)
			}
			if id := access.RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set("X-Request-ID", id)
			}

			claims := access.ClaimsFromContext(pr.In.Context())
			if claims == nil {
				return
			}
			pr.Out.Header.Set(HeaderUserID, claims.UserID())
			if claims.Email != "" {
				pr.Out.Header.Set(HeaderUserEmail, claims.Email)
			}
			if len(claims.Roles) > 0 {
				pr.Out.Header.Set(HeaderUserRoles, strings.Join(claims.Roles, ","))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			rt.logger.Error("upstream request failed",
				"route", r.prefix,
				"upstream", r.upstream.Host,
				"path", req.URL.Path,
				"request_id", access.RequestIDFromContext(req.Context()),
				"error", err,
			)
			access.WriteError(w, http.StatusBadGateway, access.CodeBadGateway, "upstream unavailable")
		},
	}
}
