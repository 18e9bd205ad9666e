package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/quota"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/testutil"
)

type fakeStore struct {
	companies map[string]storage.Company
	searched  []string
}

func (s *fakeStore) SearchCompanies(_ context.Context, query, province string, minRevenue float64, _ int) ([]storage.Company, error) {
	s.searched = append(s.searched, query)
	var out []storage.Company
	for _, c := range s.companies {
		if query != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(query)) {
			continue
		}
		if province != "" && c.Province != province {
			continue
		}
		if c.Revenue < minRevenue {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) GetCompany(_ context.Context, id string) (storage.Company, error) {
	c, ok := s.companies[id]
	if !ok {
		return storage.Company{}, storage.ErrNotFound
	}
	return c, nil
}

type fakeQuota struct {
	decision quota.Decision
	kinds    []model.UsageKind
}

func (q *fakeQuota) CheckAndReserve(_ context.Context, _ model.User, kind model.UsageKind) (quota.Decision, error) {
	q.kinds = append(q.kinds, kind)
	return q.decision, nil
}

func allow() *fakeQuota {
	return &fakeQuota{decision: quota.Decision{Allowed: true, Remaining: 5, Limit: 10, Used: 5}}
}

func deny() *fakeQuota {
	return &fakeQuota{decision: quota.Decision{Allowed: false, Limit: 10, Used: 10}}
}

func acme() storage.Company {
	return storage.Company{
		ID:          "B12345678",
		Name:        "Acme Ibérica SL",
		TradeName:   "Acme",
		Province:    "Madrid",
		Revenue:     2_500_000,
		Employees:   42,
		ContactName: "María García",
		Email:       "maria@acme.example",
		Phone:       "+34 600 000 000",
	}
}

func storeWith(companies ...storage.Company) *fakeStore {
	s := &fakeStore{companies: make(map[string]storage.Company)}
	for _, c := range companies {
		s.companies[c.ID] = c
	}
	return s
}

func noCache() *Cache {
	return NewCache(nil, 0, testutil.TestLogger())
}

func testUser() model.User {
	return model.User{ID: uuid.New(), Email: "seller@example.com", Plan: model.PlanFree}
}

func TestRegistryDispatch(t *testing.T) {
	store := storeWith(acme())
	reg := NewRegistry(testutil.TestLogger(),
		NewSearchTool(store, allow(), noCache()),
		NewDetailsTool(store, noCache(), testutil.TestLogger()),
		NewEmailTool(store),
		NewExportTool(store, allow()),
	)

	defs := reg.Definitions()
	require.Len(t, defs, 4)
	assert.Equal(t, model.ToolSearchCompanies, defs[0].Name)
	assert.Equal(t, model.ToolExportCompanies, defs[3].Name)

	assert.False(t, reg.Gated(model.ToolSearchCompanies))
	assert.True(t, reg.Gated(model.ToolDraftEmail))
	assert.True(t, reg.Gated(model.ToolExportCompanies))
	assert.False(t, reg.Gated("no_such_tool"))

	res := reg.Execute(context.Background(), testUser(), "no_such_tool", json.RawMessage(`{}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "unknown tool")
}

func TestRegistryRecordsInvocationMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(metricnoop.NewMeterProvider()) })

	store := storeWith(acme())
	reg := NewRegistry(testutil.TestLogger(), NewDetailsTool(store, noCache(), testutil.TestLogger()))

	res := reg.Execute(context.Background(), testUser(), model.ToolGetCompanyDetails, json.RawMessage(`{"company_id":"B12345678"}`))
	require.True(t, res.Success, res.ErrorMessage)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "agent.tool.invocations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			found = true
		}
	}
	assert.True(t, found, "tool invocation counter not recorded")
}

func TestSearchToolRejectsMalformedArguments(t *testing.T) {
	store := storeWith(acme())
	tool := NewSearchTool(store, allow(), noCache())

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"query":42}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "invalid search arguments")
	assert.Empty(t, store.searched)
}

func TestSearchToolConsumesQuota(t *testing.T) {
	q := allow()
	tool := NewSearchTool(storeWith(acme()), q, noCache())

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"query":"acme"}`))
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, []model.UsageKind{model.UsageSearch}, q.kinds)

	var out struct {
		Count     int               `json:"count"`
		Companies []storage.Company `json:"companies"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "B12345678", out.Companies[0].ID)
}

func TestSearchToolQuotaDenied(t *testing.T) {
	store := storeWith(acme())
	tool := NewSearchTool(store, deny(), noCache())

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"query":"acme"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "search limit reached")
	assert.Empty(t, store.searched, "denied search must not hit the dataset")
}

func TestDetailsTool(t *testing.T) {
	tool := NewDetailsTool(storeWith(acme()), noCache(), testutil.TestLogger())

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"company_id":"B12345678"}`))
	require.True(t, res.Success)

	res = tool.Execute(context.Background(), testUser(), json.RawMessage(`{"company_id":"B99999999"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "not found")

	res = tool.Execute(context.Background(), testUser(), json.RawMessage(`{}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "company_id is required")
}

func TestEmailToolDraft(t *testing.T) {
	tool := NewEmailTool(storeWith(acme()))

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"company_id":"B12345678","tone":"friendly"}`))
	require.True(t, res.Success, res.ErrorMessage)

	var out struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "maria@acme.example", out.To)
	assert.Equal(t, "Introduction to Acme", out.Subject)
	assert.Contains(t, out.Body, "Hi María García,")
	assert.Contains(t, out.Body, "Madrid")
	assert.Contains(t, out.Body, "seller@example.com")
}

func TestEmailToolMissingContact(t *testing.T) {
	c := acme()
	c.Email = ""
	tool := NewEmailTool(storeWith(c))

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"company_id":"B12345678"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "no registered contact email")
}

func TestExportToolCSV(t *testing.T) {
	q := allow()
	tool := NewExportTool(storeWith(acme()), q)

	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"query":"acme"}`))
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, []model.UsageKind{model.UsageExport}, q.kinds)

	var out struct {
		Format   string `json:"format"`
		Rows     int    `json:"rows"`
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "csv", out.Format)
	assert.Equal(t, 1, out.Rows)
	assert.Equal(t, "companies-acme.csv", out.Filename)

	lines := strings.Split(strings.TrimSpace(out.Content), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,name,trade_name,province,revenue,employees,contact_name,email,phone", lines[0])
	assert.Contains(t, lines[1], "B12345678")
	assert.Contains(t, lines[1], "2500000.00")
}

func TestExportToolRejectsUnknownFormat(t *testing.T) {
	tool := NewExportTool(storeWith(acme()), allow())
	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"query":"acme","format":"xlsx"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "unsupported export format")
}

func TestExportToolQuotaDenied(t *testing.T) {
	tool := NewExportTool(storeWith(acme()), deny())
	res := tool.Execute(context.Background(), testUser(), json.RawMessage(`{"query":"acme"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "export limit reached")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme", "acme"},
		{"tech firms madrid", "tech-firms-madrid"},
		{"  Q3_targets ", "q3-targets"},
		{"", "all"},
		{"¡¿!", "all"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), "input %q", tt.in)
	}
}
