package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
)

// MailAccount configures the IMAP mailbox email_search connects to. One
// account per Registry, since the tool has no per-call account selection
// (spec.md §1's "external data providers" are deployment-configured).
type MailAccount struct {
	Host     string
	Port     string
	Username string
	Password string
}

func (a MailAccount) addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RegisterEmailSearch registers email_search against account. Grounded on
// soyeahso-hunter3's cmd/mcp-imail searchMessages handler: DialTLS, Login,
// Select the mailbox read-only, build an imap.SearchCriteria from the
// query's FROM/SUBJECT/SEEN/UNSEEN prefixes (falling back to a full-text
// search), then fetch envelopes for the matched UIDs.
func RegisterEmailSearch(r *registry.Registry, account MailAccount) error {
	return r.Register(emailSearchSpec(account))
}

func emailSearchSpec(account MailAccount) *registry.Spec {
	return mustBuild(
		"email_search",
		"Search the configured mailbox. Query may be a plain text search, or start with FROM/SUBJECT, or be SEEN/UNSEEN.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":   map[string]any{"type": "string"},
				"mailbox": map[string]any{"type": "string", "description": "Defaults to INBOX."},
				"limit":   map[string]any{"type": "integer", "description": "Defaults to 10, max 100."},
			},
			"required": []any{"query"},
		},
		"email_search",
		[]registry.XMLMapping{
			{Param: "query", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
			{Param: "mailbox", Node: registry.NodeAttribute, Value: registry.ValueString},
			{Param: "limit", Node: registry.NodeAttribute, Value: registry.ValueInt},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Query   string `json:"query"`
				Mailbox string `json:"mailbox"`
				Limit   int    `json:"limit"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			mailbox := args.Mailbox
			if mailbox == "" {
				mailbox = "INBOX"
			}
			limit := args.Limit
			if limit <= 0 {
				limit = 10
			}
			if limit > 100 {
				limit = 100
			}
			return searchMailbox(ctx, account, mailbox, args.Query, limit)
		},
	)
}

func searchMailbox(ctx context.Context, account MailAccount, mailbox, query string, limit int) (any, error) {
	c, err := client.DialTLS(account.addr(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "connect to mail server", err)
	}
	defer c.Logout()

	if err := c.Login(account.Username, account.Password); err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "mail login failed", err)
	}

	if _, err := c.Select(mailbox, true); err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "select mailbox failed", err)
	}

	criteria := imap.NewSearchCriteria()
	queryUpper := strings.ToUpper(query)
	switch {
	case strings.HasPrefix(queryUpper, "FROM "):
		criteria.Header.Set("From", strings.TrimSpace(query[5:]))
	case strings.HasPrefix(queryUpper, "SUBJECT "):
		criteria.Header.Set("Subject", strings.TrimSpace(query[8:]))
	case queryUpper == "UNSEEN":
		criteria.WithoutFlags = []string{imap.SeenFlag}
	case queryUpper == "SEEN":
		criteria.WithFlags = []string{imap.SeenFlag}
	default:
		criteria.Text = []string{query}
	}

	uids, err := c.Search(criteria)
	if err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "mail search failed", err)
	}
	if len(uids) == 0 {
		return map[string]any{"query": query, "mailbox": mailbox, "results": []any{}}, nil
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}
	go func() { done <- c.Fetch(seqset, items, messages) }()

	var out []map[string]any
	for msg := range messages {
		from := ""
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Address()
		}
		seen := false
		for _, f := range msg.Flags {
			if f == imap.SeenFlag {
				seen = true
				break
			}
		}
		out = append(out, map[string]any{
			"uid":     msg.Uid,
			"from":    from,
			"subject": msg.Envelope.Subject,
			"date":    msg.Envelope.Date,
			"seen":    seen,
		})
	}
	if err := <-done; err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "mail fetch failed", err)
	}

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Cancelled, "email_search cancelled", ctx.Err())
	default:
	}

	return map[string]any{"query": query, "mailbox": mailbox, "results": out}, nil
}
