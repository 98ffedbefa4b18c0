package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/vdavid/maildeck/internal/models"
)

// yamlSpecial are the characters that force double-quoting of a scalar.
const yamlSpecial = ":#[]{}|>&*!'"

// needsQuoting reports whether a YAML scalar value must be quoted.
func needsQuoting(v string) bool {
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, "-") || strings.HasPrefix(v, " ") {
		return true
	}
	if strings.ContainsAny(v, yamlSpecial) {
		return true
	}
	return strings.ContainsAny(v, "\"\n\t")
}

// yamlScalar renders a scalar, double-quoting with \\ and \" escapes when the
// value contains YAML-special characters.
func yamlScalar(v string) string {
	if !needsQuoting(v) {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}

// RenderFrontmatter renders the YAML block of a message file, delimiters
// included. Key order is fixed.
func RenderFrontmatter(fm *models.Frontmatter) string {
	var b strings.Builder
	b.WriteString("---\n")
	writeKV(&b, "id", fm.ID)
	writeKV(&b, "message_id", fm.MessageID)
	writeKV(&b, "thread_id", fm.ThreadID)
	writeKV(&b, "rfc822_message_id", fm.RFC822MessageID)
	writeKV(&b, "in_reply_to", fm.InReplyTo)
	writeList(&b, "references", fm.References)
	writeAddress(&b, "from", fm.From)
	writeAddressList(&b, "to", fm.To)
	writeAddressList(&b, "cc", fm.Cc)
	writeKV(&b, "date", fm.Date.UTC().Format(time.RFC3339))
	if fm.UID > 0 {
		b.WriteString("uid: ")
		b.WriteString(strconv.FormatUint(fm.UID, 10))
		b.WriteString("\n")
	}
	b.WriteString("---\n")
	return b.String()
}

func writeKV(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(yamlScalar(value))
	b.WriteString("\n")
}

func writeList(b *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		b.WriteString(key)
		b.WriteString(": []\n")
		return
	}
	b.WriteString(key)
	b.WriteString(":\n")
	for _, v := range values {
		b.WriteString("  - ")
		b.WriteString(yamlScalar(v))
		b.WriteString("\n")
	}
}

func writeAddress(b *strings.Builder, key string, addr models.Address) {
	b.WriteString(key)
	b.WriteString(":\n")
	b.WriteString("  addr: ")
	b.WriteString(yamlScalar(addr.Addr))
	b.WriteString("\n  name: ")
	b.WriteString(yamlScalar(addr.Name))
	b.WriteString("\n")
}

func writeAddressList(b *strings.Builder, key string, addrs []models.Address) {
	if len(addrs) == 0 {
		b.WriteString(key)
		b.WriteString(": []\n")
		return
	}
	b.WriteString(key)
	b.WriteString(":\n")
	for _, a := range addrs {
		b.WriteString("  - addr: ")
		b.WriteString(yamlScalar(a.Addr))
		b.WriteString("\n    name: ")
		b.WriteString(yamlScalar(a.Name))
		b.WriteString("\n")
	}
}
