package convert

import (
	"fmt"
	"strings"

	"github.com/agentforge/agentd/pkg/task"
)

const maxTransferComments = 50

var genericBotAuthorPatterns = []string{"bot", "automation", "ci-", "github-actions"}

// FormatChangeRequestBody renders the change-request body a conversion opens
// with: the original issue (📋), a transcript of its non-bot comments (💬,
// capped at the most recent maxTransferComments), and an auto-generated
// notice (🤖).
func FormatChangeRequestBody(info IssueInfo, comments []task.Comment, botNames []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## 📋 Transferred from source issue\n\n")
	fmt.Fprintf(&b, "### Issue details\n")
	fmt.Fprintf(&b, "- **Issue number**: #%d\n", info.Number)
	fmt.Fprintf(&b, "- **Author**: @%s\n", info.Author)
	fmt.Fprintf(&b, "- **Created at**: %s\n\n", info.CreatedAt)
	fmt.Fprintf(&b, "### Issue content\n%s\n\n---\n\n", info.Body)

	b.WriteString(formatCommentsSection(comments, botNames))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "## 🤖 Auto-generated\nThis change request was automatically generated from issue #%d.", info.Number)

	return b.String()
}

func formatCommentsSection(comments []task.Comment, botNames []string) string {
	filtered := make([]task.Comment, 0, len(comments))
	for _, c := range comments {
		if isBotAuthor(c.Author, botNames) {
			continue
		}
		filtered = append(filtered, c)
	}

	if len(filtered) == 0 {
		return "## 💬 Issue comments\n\nNo comments.\n\n---"
	}

	if len(filtered) > maxTransferComments {
		filtered = filtered[len(filtered)-maxTransferComments:]
	}

	var b strings.Builder
	b.WriteString("## 💬 Issue comments\n\n")
	for i, c := range filtered {
		fmt.Fprintf(&b, "### Comment %d\n", i+1)
		fmt.Fprintf(&b, "- **Author**: @%s\n", c.Author)
		fmt.Fprintf(&b, "- **Posted at**: %s\n\n%s\n\n", c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), c.Body)
	}
	b.WriteString("---")
	return b.String()
}

func isBotAuthor(author string, botNames []string) bool {
	lower := strings.ToLower(author)
	for _, n := range botNames {
		if n != "" && lower == strings.ToLower(n) {
			return true
		}
	}
	for _, p := range genericBotAuthorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
