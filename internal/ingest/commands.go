package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"docverse/internal/docstore"
	"docverse/internal/domain"
	"docverse/internal/replies"
	"docverse/internal/sender"
)

// CommandKind is a recognized text command.
type CommandKind int

const (
	CmdWelcome CommandKind = iota // anything unrecognized
	CmdHelp
	CmdList
	CmdFind
	CmdAsk
	CmdDelete
	CmdSelect // bare number replying to a previous listing
)

// Command is one parsed text message.
type Command struct {
	Kind CommandKind
	Arg  string
}

// ParseCommand interprets a text message. Unrecognized input falls back
// to the welcome text rather than an error.
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Command{Kind: CmdWelcome}
	}

	if n, err := strconv.Atoi(trimmed); err == nil && n > 0 {
		return Command{Kind: CmdSelect, Arg: trimmed}
	}

	verb, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(verb) {
	case "help":
		return Command{Kind: CmdHelp}
	case "list":
		return Command{Kind: CmdList}
	case "find":
		if rest == "" {
			return Command{Kind: CmdHelp}
		}
		return Command{Kind: CmdFind, Arg: rest}
	case "ask":
		if rest == "" {
			return Command{Kind: CmdHelp}
		}
		return Command{Kind: CmdAsk, Arg: rest}
	case "delete":
		return Command{Kind: CmdDelete, Arg: rest}
	default:
		return Command{Kind: CmdWelcome}
	}
}

// Commands answers text messages: listing, searching, asking, deleting
// and number-reply selection.
type Commands struct {
	docs         *docstore.Store
	storage      domain.Storage
	sender       *sender.Sender
	replies      replies.Catalog
	selectionTTL time.Duration
	logger       *slog.Logger
}

// CommandsConfig wires the command processor.
type CommandsConfig struct {
	Docs         *docstore.Store
	Storage      domain.Storage
	Sender       *sender.Sender
	Replies      replies.Catalog
	SelectionTTL time.Duration // default 10m
	Logger       *slog.Logger
}

func NewCommands(cfg CommandsConfig) *Commands {
	ttl := cfg.SelectionTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Commands{
		docs:         cfg.Docs,
		storage:      cfg.Storage,
		sender:       cfg.Sender,
		replies:      cfg.Replies,
		selectionTTL: ttl,
		logger:       cfg.Logger,
	}
}

// Handle answers one text message. The message-level claim upstream
// already guarantees single execution, so every reply here bypasses the
// reply-kind claim: a user typing "list" twice deserves two listings.
func (c *Commands) Handle(ctx context.Context, msg domain.InboundMessage) domain.HandledResult {
	cmd := ParseCommand(msg.Text)

	var body string
	var kind domain.ReplyKind
	var err error
	switch cmd.Kind {
	case CmdHelp:
		body, kind = c.replies.Help, domain.ReplyHelp
	case CmdList:
		body, err = c.list(ctx, msg.Sender)
		kind = domain.ReplyList
	case CmdFind:
		body, err = c.find(ctx, msg.Sender, cmd.Arg)
		kind = domain.ReplyFind
	case CmdAsk:
		body, err = c.ask(ctx, msg.Sender, cmd.Arg)
		kind = domain.ReplyAsk
	case CmdDelete:
		body, err = c.delete(ctx, msg.Sender, cmd.Arg)
		kind = domain.ReplyDelete
	case CmdSelect:
		body, err = c.selectDoc(ctx, msg.Sender, cmd.Arg)
		kind = domain.ReplySelection
	default:
		body, kind = c.replies.Welcome, domain.ReplyWelcome
	}
	if err != nil {
		c.logger.Error("command failed", "sender", msg.Sender, "kind", cmd.Kind, "err", err)
		c.reply(ctx, msg.Sender, c.replies.GenericError, kind)
		return domain.Failed("command:" + err.Error())
	}

	if sendErr := c.reply(ctx, msg.Sender, body, kind); sendErr != nil {
		return domain.Failed("notify:" + sendErr.Error())
	}
	return domain.Processed()
}

func (c *Commands) list(ctx context.Context, sender string) (string, error) {
	docs, err := c.docs.List(ctx, sender)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return c.replies.NoDocuments, nil
	}
	if err := c.saveSelection(ctx, sender, docs); err != nil {
		return "", err
	}
	return c.replies.DocumentList(docs), nil
}

func (c *Commands) find(ctx context.Context, sender, query string) (string, error) {
	docs, err := c.docs.Search(ctx, sender, query)
	if err != nil {
		return "", err
	}
	switch len(docs) {
	case 0:
		return c.replies.NotFound, nil
	case 1:
		excerpt, err := c.docs.FirstChunk(ctx, docs[0].ID)
		if err != nil {
			return "", err
		}
		return c.replies.DocumentDetails(docs[0], excerpt), nil
	default:
		if err := c.saveSelection(ctx, sender, docs); err != nil {
			return "", err
		}
		return c.replies.FindResults(docs), nil
	}
}

func (c *Commands) ask(ctx context.Context, sender, query string) (string, error) {
	hits, err := c.docs.SearchChunks(ctx, sender, query, 3)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return c.replies.NotFound, nil
	}
	return c.replies.AskAnswer(query, hits), nil
}

// delete resolves a number against the sender's last listing, removes
// the stored artifact and the index row, then drops the now-stale
// selection context.
func (c *Commands) delete(ctx context.Context, sender, arg string) (string, error) {
	doc, err := c.resolveSelection(ctx, sender, arg)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return c.replies.InvalidNumber, nil
	}

	if err := c.storage.Remove(ctx, doc.Location); err != nil {
		return "", err
	}
	deleted, err := c.docs.Delete(ctx, sender, doc.ID)
	if err != nil {
		return "", err
	}
	if !deleted {
		return c.replies.InvalidNumber, nil
	}
	if err := c.docs.ClearSelection(ctx, sender); err != nil {
		c.logger.Warn("cannot clear selection", "sender", sender, "err", err)
	}
	return c.replies.Deleted(doc.Filename), nil
}

func (c *Commands) selectDoc(ctx context.Context, sender, arg string) (string, error) {
	doc, err := c.resolveSelection(ctx, sender, arg)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return c.replies.InvalidNumber, nil
	}
	excerpt, err := c.docs.FirstChunk(ctx, doc.ID)
	if err != nil {
		return "", err
	}
	return c.replies.DocumentDetails(*doc, excerpt), nil
}

// resolveSelection maps a 1-based number to a document from the
// sender's live selection context. Returns nil when the number or the
// context is no good.
func (c *Commands) resolveSelection(ctx context.Context, sender, arg string) (*docstore.Document, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return nil, nil
	}
	ids, err := c.docs.GetSelection(ctx, sender)
	if err != nil {
		return nil, err
	}
	if n > len(ids) {
		return nil, nil
	}
	return c.docs.Get(ctx, sender, ids[n-1])
}

func (c *Commands) saveSelection(ctx context.Context, sender string, docs []docstore.Document) error {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return c.docs.SaveSelection(ctx, sender, ids, c.selectionTTL)
}

func (c *Commands) reply(ctx context.Context, recipient, body string, kind domain.ReplyKind) error {
	_, err := c.sender.Send(ctx, domain.OutboundMessage{
		Recipient:   recipient,
		Body:        body,
		ReplyKind:   kind,
		BypassDedup: true,
	})
	return err
}
