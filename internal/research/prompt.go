package research

import (
	"fmt"
	"strings"

	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// systemPrompt is shared by every item in a run so it can be cached.
const systemPrompt = `You write research summaries for services sold to real estate agents.
Be concrete and factual. Describe what the service does, who it suits, typical return on
investment for an agent, and anything an agent should check before buying.
Write plain prose in short paragraphs. Do not invent statistics or quote prices that are
not given to you.`

const defaultInstructions = "Write a research summary for this service."

// BuildPrompt assembles the user message for one catalog item: the operator's
// instructions, the item facts, an optional market intelligence section and
// the operator's numbered source references.
func BuildPrompt(instructions string, item model.CatalogItem, marketIntelligence bool, sources []string) string {
	var b strings.Builder

	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		instructions = defaultInstructions
	}
	b.WriteString(instructions)
	b.WriteString("\n\n## Service\n")

	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", item.Category)
	}
	if vendor := vendorLabel(item); vendor != "" {
		fmt.Fprintf(&b, "Vendor: %s", vendor)
		if item.VendorVerified {
			b.WriteString(" (verified)")
		}
		b.WriteString("\n")
	}
	if item.RetailPrice != "" {
		fmt.Fprintf(&b, "Retail Price: %s\n", item.RetailPrice)
	}
	if item.DiscountedPrice != "" {
		fmt.Fprintf(&b, "Discounted Price: %s\n", item.DiscountedPrice)
	}
	if item.CoPayPrice != "" {
		fmt.Fprintf(&b, "Co-pay Price: %s\n", item.CoPayPrice)
	}
	if item.AllowsCoPay {
		b.WriteString("Co-pay: available\n")
	}
	if item.Rating != nil {
		fmt.Fprintf(&b, "Rating: %.1f/5\n", *item.Rating)
	}

	if marketIntelligence {
		b.WriteString("\n## Market Intelligence\n")
		b.WriteString("Include a short section on current market conditions for this kind of service: ")
		b.WriteString("demand trends among agents, typical competitor pricing and how this offer compares.\n")
	}

	if refs := nonEmpty(sources); len(refs) > 0 {
		b.WriteString("\n## Sources\n")
		b.WriteString("Prefer these references where relevant:\n")
		for i, src := range refs {
			fmt.Fprintf(&b, "%d. %s\n", i+1, src)
		}
	}

	return b.String()
}

func vendorLabel(item model.CatalogItem) string {
	if item.VendorDisplayName != "" {
		return item.VendorDisplayName
	}
	return item.VendorName
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
