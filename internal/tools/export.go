package tools

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// exportLimit caps rows per export so a single call cannot dump the dataset.
const exportLimit = 100

// ExportTool produces a CSV extract of a filtered company set. Exports leave
// the platform, so the tool is approval-gated and consumes export quota.
type ExportTool struct {
	store CompanyStore
	quota QuotaGate
}

func NewExportTool(store CompanyStore, quota QuotaGate) *ExportTool {
	return &ExportTool{store: store, quota: quota}
}

func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool(model.ToolExportCompanies,
		mcp.WithDescription("Export companies matching a query as CSV. Requires human approval and consumes one export from the period quota."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text match against legal and trade names.")),
		mcp.WithString("format", mcp.Description("Output format."), mcp.Enum("csv")),
	)
}

func (t *ExportTool) Gated() bool { return true }

func (t *ExportTool) Execute(ctx context.Context, user model.User, args json.RawMessage) Result {
	in, ok := model.DecodeToolInput(model.ToolExportCompanies, args).(model.ExportCompaniesInput)
	if !ok {
		return Fail("invalid export arguments")
	}
	if in.Format != "" && in.Format != "csv" {
		return Fail("unsupported export format %q", in.Format)
	}

	decision, err := t.quota.CheckAndReserve(ctx, user, model.UsageExport)
	if err != nil {
		return Fail("export admission failed: %v", err)
	}
	if !decision.Allowed {
		return Fail("export limit reached for this billing period (%d of %d used)", decision.Used, decision.Limit)
	}

	companies, err := t.store.SearchCompanies(ctx, in.Query, "", 0, exportLimit)
	if err != nil {
		return Fail("export query failed: %v", err)
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "name", "trade_name", "province", "revenue", "employees", "contact_name", "email", "phone"})
	for _, c := range companies {
		_ = w.Write([]string{
			c.ID, c.Name, c.TradeName, c.Province,
			strconv.FormatFloat(c.Revenue, 'f', 2, 64),
			strconv.Itoa(c.Employees),
			c.ContactName, c.Email, c.Phone,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Fail("write csv: %v", err)
	}

	return Ok(map[string]any{
		"format":   "csv",
		"rows":     len(companies),
		"filename": fmt.Sprintf("companies-%s.csv", sanitizeFilename(in.Query)),
		"content":  buf.String(),
	})
}

func sanitizeFilename(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return "all"
	}
	var b strings.Builder
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "all"
	}
	return b.String()
}
