// Package scope maps mutation types to the data scopes they invalidate.
package scope

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/types"
)

// Well-known scopes of the administration app.
const (
	Users                types.ScopeKey = "users"
	UsersByManager       types.ScopeKey = "users-by-manager"
	Schools              types.ScopeKey = "schools"
	SchoolsByManager     types.ScopeKey = "schools-by-manager"
	Classes              types.ScopeKey = "classes"
	ClassesBySchool      types.ScopeKey = "classes-by-school"
	CurricularComponents types.ScopeKey = "curricular-components"
	Enrollments          types.ScopeKey = "enrollments"
	DashboardStats       types.ScopeKey = "dashboard-stats"
	DashboardInstant     types.ScopeKey = "dashboard-instant"
)

// Rule maps every mutation type containing Substring to Scopes.
type Rule struct {
	Substring string
	Scopes    []types.ScopeKey
}

// DefaultRules returns the rules in priority order: users, schools,
// classes, curricular components, enrollments. A type naming two entities,
// such as "create-matricula-turma", resolves to whichever comes first here.
func DefaultRules() []Rule {
	return []Rule{
		{Substring: "usuario", Scopes: []types.ScopeKey{Users, UsersByManager, DashboardStats, DashboardInstant}},
		{Substring: "escola", Scopes: []types.ScopeKey{Schools, SchoolsByManager, DashboardStats, DashboardInstant}},
		{Substring: "turma", Scopes: []types.ScopeKey{Classes, ClassesBySchool, DashboardStats, DashboardInstant}},
		{Substring: "componente", Scopes: []types.ScopeKey{CurricularComponents, Classes, DashboardStats}},
		{Substring: "matricula", Scopes: []types.ScopeKey{Enrollments, Classes, Users, DashboardStats, DashboardInstant}},
	}
}

// Stats counts resolutions. Unmatched types fall back to every scope; they
// are tracked apart from matches so missing rules stand out.
type Stats struct {
	Matched       int64
	Unmatched     int64
	LastUnmatched string
}

// Resolver resolves mutation types to scope lists.
type Resolver struct {
	rules  []Rule
	all    []types.ScopeKey
	logger cache.Logger

	matched       int64
	unmatched     int64
	mu            sync.Mutex
	lastUnmatched string
}

// NewResolver creates a resolver. extra lists scopes that no rule mentions
// but that still belong to the "all" set.
func NewResolver(rules []Rule, logger cache.Logger, extra ...types.ScopeKey) *Resolver {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}

	seen := make(map[types.ScopeKey]struct{})
	for _, r := range rules {
		for _, s := range r.Scopes {
			seen[s] = struct{}{}
		}
	}
	for _, s := range extra {
		seen[s] = struct{}{}
	}
	all := make([]types.ScopeKey, 0, len(seen))
	for s := range seen {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	return &Resolver{rules: rules, all: all, logger: logger}
}

// NewDefaultResolver creates a resolver with DefaultRules.
func NewDefaultResolver(logger cache.Logger) *Resolver {
	return NewResolver(DefaultRules(), logger)
}

// Resolve returns the scopes of the first rule whose substring occurs in
// mutationType, or [types.AllScopes] when no rule matches.
func (r *Resolver) Resolve(mutationType string) []types.ScopeKey {
	lowered := strings.ToLower(mutationType)
	for _, rule := range r.rules {
		if strings.Contains(lowered, rule.Substring) {
			atomic.AddInt64(&r.matched, 1)
			out := make([]types.ScopeKey, len(rule.Scopes))
			copy(out, rule.Scopes)
			return out
		}
	}

	atomic.AddInt64(&r.unmatched, 1)
	r.mu.Lock()
	r.lastUnmatched = mutationType
	r.mu.Unlock()
	r.logger.Warn("Resolver: no rule for mutation type, refreshing all scopes", "type", mutationType)
	return []types.ScopeKey{types.AllScopes}
}

// Scopes returns every known scope in lexical order.
func (r *Resolver) Scopes() []types.ScopeKey {
	out := make([]types.ScopeKey, len(r.all))
	copy(out, r.all)
	return out
}

// Stats returns resolution counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	last := r.lastUnmatched
	r.mu.Unlock()
	return Stats{
		Matched:       atomic.LoadInt64(&r.matched),
		Unmatched:     atomic.LoadInt64(&r.unmatched),
		LastUnmatched: last,
	}
}
