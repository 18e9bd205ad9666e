package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
)

// EmailTool drafts an outreach email for a company contact. Drafting text on
// behalf of the user is a side-effectful act, so the tool is approval-gated.
type EmailTool struct {
	store CompanyStore
}

func NewEmailTool(store CompanyStore) *EmailTool {
	return &EmailTool{store: store}
}

func (t *EmailTool) Definition() mcp.Tool {
	return mcp.NewTool(model.ToolDraftEmail,
		mcp.WithDescription("Draft an outreach email to a company's registered contact. Requires human approval before running."),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Registry identifier of the target company.")),
		mcp.WithString("subject", mcp.Description("Subject line. A default is composed when empty.")),
		mcp.WithString("tone", mcp.Description("Writing tone."), mcp.Enum("formal", "friendly", "direct")),
	)
}

func (t *EmailTool) Gated() bool { return true }

func (t *EmailTool) Execute(ctx context.Context, user model.User, args json.RawMessage) Result {
	in, ok := model.DecodeToolInput(model.ToolDraftEmail, args).(model.DraftEmailInput)
	if !ok {
		return Fail("invalid draft arguments")
	}
	if in.CompanyID == "" {
		return Fail("company_id is required")
	}

	company, err := t.store.GetCompany(ctx, in.CompanyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Fail("company %s not found", in.CompanyID)
		}
		return Fail("lookup failed: %v", err)
	}
	if company.Email == "" {
		return Fail("company %s has no registered contact email", in.CompanyID)
	}

	subject := in.Subject
	if subject == "" {
		subject = fmt.Sprintf("Introduction to %s", displayName(company))
	}

	return Ok(map[string]any{
		"to":      company.Email,
		"subject": subject,
		"body":    draftBody(company, in.Tone, user.Email),
	})
}

func displayName(c storage.Company) string {
	if c.TradeName != "" {
		return c.TradeName
	}
	return c.Name
}

func draftBody(c storage.Company, tone, senderEmail string) string {
	greeting := "Dear"
	closing := "Best regards,"
	switch tone {
	case "friendly":
		greeting = "Hi"
		closing = "Cheers,"
	case "direct":
		greeting = "Hello"
		closing = "Regards,"
	}

	contact := c.ContactName
	if contact == "" {
		contact = displayName(c) + " team"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s,\n\n", greeting, contact)
	fmt.Fprintf(&b, "I came across %s and was impressed by your presence in %s. ", displayName(c), orUnknown(c.Province))
	b.WriteString("I'd love to set up a short call to explore how we could work together.\n\n")
	b.WriteString("Would you have 20 minutes some time next week?\n\n")
	fmt.Fprintf(&b, "%s\n%s\n", closing, senderEmail)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "your region"
	}
	return s
}
