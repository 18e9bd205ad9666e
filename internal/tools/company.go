package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
)

// CompanyStore is the read surface of the company dataset. *storage.DB
// satisfies it.
type CompanyStore interface {
	SearchCompanies(ctx context.Context, query, province string, minRevenue float64, limit int) ([]storage.Company, error)
	GetCompany(ctx context.Context, id string) (storage.Company, error)
}

// SearchTool queries the company dataset. Each execution consumes one search
// from the user's period quota before touching the dataset.
type SearchTool struct {
	store CompanyStore
	quota QuotaGate
	cache *Cache
}

func NewSearchTool(store CompanyStore, quota QuotaGate, cache *Cache) *SearchTool {
	return &SearchTool{store: store, quota: quota, cache: cache}
}

func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool(model.ToolSearchCompanies,
		mcp.WithDescription("Search the company dataset by name, province, and minimum revenue. Returns up to 100 matches ordered by revenue."),
		mcp.WithString("query", mcp.Description("Free-text match against legal and trade names. Empty matches all.")),
		mcp.WithString("province", mcp.Description("Exact province filter.")),
		mcp.WithNumber("min_revenue", mcp.Description("Minimum annual revenue in euros.")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 20, cap 100.")),
	)
}

func (t *SearchTool) Gated() bool { return false }

func (t *SearchTool) Execute(ctx context.Context, user model.User, args json.RawMessage) Result {
	in, ok := model.DecodeToolInput(model.ToolSearchCompanies, args).(model.SearchCompaniesInput)
	if !ok {
		return Fail("invalid search arguments")
	}

	decision, err := t.quota.CheckAndReserve(ctx, user, model.UsageSearch)
	if err != nil {
		return Fail("search admission failed: %v", err)
	}
	if !decision.Allowed {
		return Fail("search limit reached for this billing period (%d of %d used)", decision.Used, decision.Limit)
	}

	if res, ok := t.cache.Get(ctx, model.ToolSearchCompanies, args); ok {
		return res
	}

	companies, err := t.store.SearchCompanies(ctx, in.Query, in.Province, in.MinRevenue, in.Limit)
	if err != nil {
		return Fail("search failed: %v", err)
	}
	res := Ok(map[string]any{
		"companies": companies,
		"count":     len(companies),
	})
	t.cache.Put(ctx, model.ToolSearchCompanies, args, res)
	return res
}

// DetailsTool looks up one company by registry identifier. Lookups are free;
// only searches and exports are metered.
type DetailsTool struct {
	store  CompanyStore
	cache  *Cache
	logger *slog.Logger
}

func NewDetailsTool(store CompanyStore, cache *Cache, logger *slog.Logger) *DetailsTool {
	return &DetailsTool{store: store, cache: cache, logger: logger}
}

func (t *DetailsTool) Definition() mcp.Tool {
	return mcp.NewTool(model.ToolGetCompanyDetails,
		mcp.WithDescription("Fetch the full record of one company by its registry identifier."),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Registry identifier as returned by search_companies.")),
	)
}

func (t *DetailsTool) Gated() bool { return false }

func (t *DetailsTool) Execute(ctx context.Context, user model.User, args json.RawMessage) Result {
	in, ok := model.DecodeToolInput(model.ToolGetCompanyDetails, args).(model.CompanyDetailsInput)
	if !ok {
		return Fail("invalid lookup arguments")
	}
	if in.CompanyID == "" {
		return Fail("company_id is required")
	}

	if res, ok := t.cache.Get(ctx, model.ToolGetCompanyDetails, args); ok {
		return res
	}

	company, err := t.store.GetCompany(ctx, in.CompanyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Fail("company %s not found", in.CompanyID)
		}
		return Fail("lookup failed: %v", err)
	}
	res := Ok(company)
	t.cache.Put(ctx, model.ToolGetCompanyDetails, args, res)
	return res
}
