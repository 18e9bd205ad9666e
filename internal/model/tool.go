package model

import (
	"encoding/json"
	"time"
)

// Tool names form a closed set with structured payloads; anything else is
// carried opaquely (see DecodeToolInput).
const (
	ToolSearchCompanies   = "search_companies"
	ToolGetCompanyDetails = "get_company_details"
	ToolDraftEmail        = "draft_email"
	ToolExportCompanies   = "export_companies"
)

// InvocationKind distinguishes a tool call from its eventual result.
type InvocationKind string

const (
	InvocationCall   InvocationKind = "call"
	InvocationResult InvocationKind = "result"
)

// ToolInvocation is one entry in the append-only tool ledger: either a call
// issued by the model or the result it eventually produced. A result entry
// references exactly one prior call entry with the same CallID.
type ToolInvocation struct {
	CallID       string          `json:"call_id"`
	ToolName     string          `json:"tool_name"`
	Kind         InvocationKind  `json:"kind"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ToolInput is the decoded argument payload of a tool call. It is a tagged
// union over the known tool set; unrecognized tools decode to OpaqueInput.
type ToolInput interface {
	isToolInput()
}

// SearchCompaniesInput filters the company dataset.
type SearchCompaniesInput struct {
	Query      string  `json:"query"`
	Province   string  `json:"province,omitempty"`
	MinRevenue float64 `json:"min_revenue,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// CompanyDetailsInput looks up a single company by its registry identifier.
type CompanyDetailsInput struct {
	CompanyID string `json:"company_id"`
}

// DraftEmailInput asks for an outreach email draft for a company.
type DraftEmailInput struct {
	CompanyID string `json:"company_id"`
	Subject   string `json:"subject,omitempty"`
	Tone      string `json:"tone,omitempty"`
}

// ExportCompaniesInput requests a downloadable export of a filtered set.
type ExportCompaniesInput struct {
	Query  string `json:"query"`
	Format string `json:"format,omitempty"`
}

// OpaqueInput carries the raw arguments of a tool the engine does not model.
type OpaqueInput struct {
	Raw json.RawMessage `json:"raw"`
}

func (SearchCompaniesInput) isToolInput() {}
func (CompanyDetailsInput) isToolInput()  {}
func (DraftEmailInput) isToolInput()      {}
func (ExportCompaniesInput) isToolInput() {}
func (OpaqueInput) isToolInput()          {}

// DecodeToolInput parses raw model-provided arguments into the typed variant
// for the named tool. Unknown tools, and known tools with malformed payloads,
// fall back to the opaque variant so the ledger never loses information.
func DecodeToolInput(toolName string, raw json.RawMessage) ToolInput {
	switch toolName {
	case ToolSearchCompanies:
		var in SearchCompaniesInput
		if err := json.Unmarshal(raw, &in); err == nil {
			return in
		}
	case ToolGetCompanyDetails:
		var in CompanyDetailsInput
		if err := json.Unmarshal(raw, &in); err == nil {
			return in
		}
	case ToolDraftEmail:
		var in DraftEmailInput
		if err := json.Unmarshal(raw, &in); err == nil {
			return in
		}
	case ToolExportCompanies:
		var in ExportCompaniesInput
		if err := json.Unmarshal(raw, &in); err == nil {
			return in
		}
	}
	return OpaqueInput{Raw: raw}
}
