package genai

import (
	"fmt"
	"strings"

	"pinstrategy/internal/domain"
)

const lockInstruction = "You audit product photography. Identify the physical traits of the product " +
	"that must never change when it is re-photographed or re-rendered."

const verifyInstruction = "You audit generated product imagery and reject any image in which the " +
	"product's identity has drifted from the reference photos."

func lockPrompt(description string) string {
	var b strings.Builder
	b.WriteString("Describe the product shown in concrete physical terms: category, silhouette, ")
	b.WriteString("materials, colours, and distinguishing parts such as handles, lids or straps. ")
	b.WriteString("Keep it under 100 words and list only traits that must stay identical.")
	if description = strings.TrimSpace(description); description != "" {
		b.WriteString("\nSeller description: ")
		b.WriteString(description)
	}
	return b.String()
}

func draftInstruction(settings domain.Settings, lock domain.ProductLock) string {
	var b strings.Builder
	b.WriteString("You plan product photography for Pinterest.\n\n")
	b.WriteString("Product identity (mandatory, never alter):\n")
	b.WriteString(strings.TrimSpace(lock.String()))
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Every prompt must depict exactly this product; no substitutes or category changes.\n")
	if settings.VisualStyle.AllowsTextOverlay() {
		fmt.Fprintf(&b, "- Visual style: %s. Short informational labels may appear on the image; no promotional copy.\n", settings.VisualStyle.Label())
	} else {
		fmt.Fprintf(&b, "- Visual style: %s. No text on the image.\n", settings.VisualStyle.Label())
	}
	fmt.Fprintf(&b, "- Audience: %s.\n", settings.AudienceFocus.Label())
	return b.String()
}

func draftPrompt(description string, settings domain.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d detailed image prompts for Pinterest pins. ", domain.MaxPromptsPerRun)
	fmt.Fprintf(&b, "Exactly %d of them must be 9:16, the rest 1:1. ", settings.VerticalCount)
	b.WriteString(`Reply with only a JSON array: [{"prompt": string, "aspectRatio": "1:1" | "9:16", "layoutType": string}].`)
	if settings.EnableWebResearch {
		b.WriteString(" Use current Pinterest search trends for this product category.")
	}
	if description = strings.TrimSpace(description); description != "" {
		b.WriteString("\nSeller description: ")
		b.WriteString(description)
	}
	return b.String()
}

func imagePrompt(prompt string) string {
	return "Photorealistic product photograph. The product must match the reference exactly. " + strings.TrimSpace(prompt)
}

func verifyPrompt(lock domain.ProductLock) string {
	var b strings.Builder
	b.WriteString("Compare the last image with the reference photos before it.\n")
	b.WriteString("Product identity: ")
	b.WriteString(strings.TrimSpace(lock.String()))
	b.WriteString("\nCheck that the product category is unchanged and that handles, lids and shape are preserved.\n")
	b.WriteString(`Answer "PASS" if the identity is fully preserved, otherwise "FAIL" and the reason.`)
	return b.String()
}

func metadataInstruction(settings domain.Settings) string {
	terms := "15-20"
	switch settings.SEOIntensity {
	case domain.SEOMinimal:
		terms = "5-8"
	case domain.SEOAggressive:
		terms = "20-25"
	}
	var b strings.Builder
	b.WriteString("You write Pinterest SEO copy based on how people search Pinterest.\n")
	b.WriteString("- Plain phrases only, no hashtags.\n")
	fmt.Fprintf(&b, "- Provide %s search keywords.\n", terms)
	fmt.Fprintf(&b, "- Write for %s.\n", settings.AudienceFocus.Label())
	return b.String()
}

func metadataPrompt(prompt, productContext string) string {
	return fmt.Sprintf(
		`Write Pinterest metadata as JSON {"title": string, "description": string, "altText": string, "keywords": string[]}. Product: %s. Image: %s`,
		strings.TrimSpace(productContext), strings.TrimSpace(prompt),
	)
}
