// Package clean turns raw message bodies into the low-noise text the corpus
// stores. The pipeline is deterministic and order-fixed: body selection, quote
// removal, signature stripping, noise normalization. Every destructive rule
// has a conservative fallback that keeps the original when it would strip too
// much.
package clean

// Body selects and cleans the body of a message. Prefers plain text; falls
// back to converting HTML.
func Body(textBody, htmlBody string) string {
	body := textBody
	if body == "" && htmlBody != "" {
		body = HTMLToText(htmlBody)
	}
	body = StripQuotes(body)
	body = StripSignature(body)
	body = NormalizeNoise(body)
	return body
}
