// Package replies holds every user-visible text in one place, with an
// optional YAML override file for deployments that want different
// wording.
package replies

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"docverse/internal/docstore"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of fixed reply texts. Fields map 1:1 to the
// override YAML.
type Catalog struct {
	Welcome        string `yaml:"welcome"`
	Help           string `yaml:"help"`
	NoDocuments    string `yaml:"noDocuments"`
	ListHint       string `yaml:"listHint"`
	NotFound       string `yaml:"notFound"`
	InvalidNumber  string `yaml:"invalidNumber"`
	GenericError   string `yaml:"genericError"`
}

// Defaults returns the built-in texts.
func Defaults() Catalog {
	return Catalog{
		Welcome: "🌟 *Welcome to Docverse!* 🌟\n\n" +
			"Here's what you can do:\n\n" +
			"📋 *Available Commands:*\n" +
			"• Send any document to store it\n" +
			"• *list* - View your stored documents\n" +
			"• *find [text]* - Search for documents\n" +
			"• *ask [question]* - Ask questions about your documents\n" +
			"• *help* - Show all commands\n\n" +
			"Need help? Just type 'help' anytime!",
		Help: "📋 *Docverse Commands*\n\n" +
			"• Send any document to store it (add a caption to describe it)\n" +
			"• *list* — View your stored documents\n" +
			"• *find [text]* — Search documents by name or content\n" +
			"• *ask [question]* — Ask about your documents' contents\n" +
			"• *delete [number]* — Delete a document from your last list\n" +
			"• Reply with a number to pick a document from a list",
		NoDocuments:   "You don't have any stored documents.",
		ListHint:      "To get a document, reply with the number (e.g., '2')\nTo delete a document, reply with 'delete <number>' (e.g., 'delete 2')",
		NotFound:      "❌ Sorry, I couldn't find any documents matching your description.",
		InvalidNumber: "❌ Invalid document number. Use 'list' to see your documents.",
		GenericError:  "❌ An error occurred. Please try again.",
	}
}

// Load returns Defaults overlaid with any fields present in the YAML
// file at path. A missing file is not an error.
func Load(path string, logger *slog.Logger) Catalog {
	cat := Defaults()
	if path == "" {
		return cat
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cannot read replies file", "path", path, "err", err)
		}
		return cat
	}
	if err := yaml.Unmarshal(data, &cat); err != nil {
		logger.Warn("cannot parse replies file, using defaults", "path", path, "err", err)
		return Defaults()
	}
	logger.Info("loaded reply overrides", "path", path)
	return cat
}

// DocumentStored is the success notification for a completed pipeline.
func (c Catalog) DocumentStored(filename, summary string) string {
	msg := fmt.Sprintf("✅ Document '%s' stored successfully!", filename)
	if summary != "" {
		msg += "\n" + summary
	}
	return msg
}

// DocumentFailed names the failed stage without leaking transport
// detail or credentials.
func (c Catalog) DocumentFailed(filename string, stage string) string {
	var what string
	switch stage {
	case "download":
		what = "I couldn't download it from the chat"
	case "store":
		what = "I couldn't save it"
	case "process":
		what = "it was stored but could not be processed — you can send it again to retry processing"
	default:
		what = "something went wrong"
	}
	name := filename
	if name == "" {
		name = "your document"
	}
	return fmt.Sprintf("❌ Sorry, %s: %s.", what, name)
}

// DocumentList renders the numbered listing plus selection hints.
func (c Catalog) DocumentList(docs []docstore.Document) string {
	var sb strings.Builder
	sb.WriteString("Your documents:\n\n")
	for i, d := range docs {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, d.Filename))
		if d.Description != "" {
			sb.WriteString(" — " + d.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(c.ListHint)
	return sb.String()
}

// FindResults renders matches for a find query.
func (c Catalog) FindResults(docs []docstore.Document) string {
	var sb strings.Builder
	sb.WriteString("I found multiple matching documents:\n\n")
	for i, d := range docs {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, d.Filename))
		if d.Description != "" {
			sb.WriteString(" — " + d.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nPlease reply with the number of the document you want.")
	return sb.String()
}

// AskAnswer renders excerpt hits for an ask query.
func (c Catalog) AskAnswer(query string, hits []docstore.ChunkHit) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Here's what I found about \"%s\":\n", query))
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("\n📄 %s:\n%s\n", h.Filename, truncate(h.Content, 280)))
	}
	return sb.String()
}

// DocumentDetails renders a single selected document.
func (c Catalog) DocumentDetails(d docstore.Document, excerpt string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📄 Here's your document: %s\n", d.Filename))
	if d.Description != "" {
		sb.WriteString(d.Description + "\n")
	}
	if excerpt != "" {
		sb.WriteString("\n" + truncate(excerpt, 400))
	}
	return sb.String()
}

// truncate caps s at n runes. Cutting on a byte index could split a
// multi-byte character and ship mojibake to the chat.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// Deleted confirms a removal.
func (c Catalog) Deleted(filename string) string {
	return fmt.Sprintf("✅ Document '%s' deleted successfully!", filename)
}
