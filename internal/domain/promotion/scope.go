package promotion

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/money"
)

// ScopeResult reports which part of the cart a promotion applies to.
//
// ScopeSubtotal is the total of every in-scope line. EligibleSubtotal is the
// portion of ScopeSubtotal that also passes the sale-item exclusion rule and
// is the base for the actual discount. Keeping both lets callers distinguish
// "nothing matched the scope" from "everything in scope is on sale".
type ScopeResult struct {
	EligibleSubtotal decimal.Decimal
	ScopeSubtotal    decimal.Decimal
	HasIncludes      bool
	HasExcludes      bool
}

// scopeSets is the include/exclude sets built from a promotion's scope rules.
type scopeSets struct {
	includeProducts   map[string]struct{}
	includeCategories map[string]struct{}
	excludeProducts   map[string]struct{}
	excludeCategories map[string]struct{}
}

func buildScopeSets(scopes []Scope) scopeSets {
	s := scopeSets{
		includeProducts:   make(map[string]struct{}),
		includeCategories: make(map[string]struct{}),
		excludeProducts:   make(map[string]struct{}),
		excludeCategories: make(map[string]struct{}),
	}
	for _, sc := range scopes {
		switch {
		case sc.Mode == ScopeInclude && sc.EntityType == ScopeProduct:
			s.includeProducts[sc.EntityID] = struct{}{}
		case sc.Mode == ScopeInclude && sc.EntityType == ScopeCategory:
			s.includeCategories[sc.EntityID] = struct{}{}
		case sc.Mode == ScopeExclude && sc.EntityType == ScopeProduct:
			s.excludeProducts[sc.EntityID] = struct{}{}
		case sc.Mode == ScopeExclude && sc.EntityType == ScopeCategory:
			s.excludeCategories[sc.EntityID] = struct{}{}
		}
	}
	return s
}

func (s scopeSets) hasIncludes() bool {
	return len(s.includeProducts)+len(s.includeCategories) > 0
}

func (s scopeSets) hasExcludes() bool {
	return len(s.excludeProducts)+len(s.excludeCategories) > 0
}

// inScope reports whether a line for the given product falls inside the scope.
func (s scopeSets) inScope(p *product.Product) bool {
	if _, ok := s.excludeProducts[p.ID]; ok {
		return false
	}
	if _, ok := s.excludeCategories[p.Category]; ok {
		return false
	}
	if !s.hasIncludes() {
		return true
	}
	if _, ok := s.includeProducts[p.ID]; ok {
		return true
	}
	_, ok := s.includeCategories[p.Category]
	return ok
}

// ResolveScope computes the scoped and eligible subtotals of the cart under
// the promotion's include/exclude rules. Lines whose product cannot be
// resolved in the catalog map are skipped. A promotion without scope rules
// covers the whole cart.
func ResolveScope(
	p *Promotion,
	lines []cart.Line,
	products map[string]product.Product,
	rounding money.Rounding,
) ScopeResult {
	sets := buildScopeSets(p.Scopes)

	scopeSubtotal := decimal.Zero
	eligibleSubtotal := decimal.Zero

	for _, line := range lines {
		prod, ok := products[line.ProductID]
		if !ok {
			continue
		}
		if !sets.inScope(&prod) {
			continue
		}

		total := line.Total()
		scopeSubtotal = scopeSubtotal.Add(total)

		if prod.OnSale && !p.AllowOnSaleItems {
			continue
		}
		eligibleSubtotal = eligibleSubtotal.Add(total)
	}

	return ScopeResult{
		EligibleSubtotal: rounding.Quantize(eligibleSubtotal),
		ScopeSubtotal:    rounding.Quantize(scopeSubtotal),
		HasIncludes:      sets.hasIncludes(),
		HasExcludes:      sets.hasExcludes(),
	}
}
