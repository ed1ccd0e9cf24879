package provider

import (
	"fmt"
	"strings"

	"github.com/fabio-bix/json-transcribe/internal/placeholder"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// languageOverrides names the variants the default English display names get wrong for our users.
var languageOverrides = map[string]string{
	"pt": "Brazilian Portuguese",
	"sr": "Serbian (Latinized)",
	"tl": "Filipino (Tagalog)",
}

// LanguageName returns the English name used in prompts for a language code.
// Unknown codes are returned unchanged.
func LanguageName(code string) string {
	code = strings.TrimSpace(code)
	if name, ok := languageOverrides[strings.ToLower(code)]; ok {
		return name
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

const placeholderInstruction = "\n\nCRITICAL INSTRUCTION: The JSON values contain placeholder tokens " +
	"(like __PH_GG__0__, __PH_ICU__1__, __PH_PRINTF__0__). " +
	"These tokens are PLACEHOLDER MARKERS, NOT text to translate. " +
	"You MUST preserve these tokens EXACTLY as they are - do NOT translate them, modify them, or remove them. " +
	"Keep them in the exact same positions in your translation. " +
	"Only translate the actual words and sentences, leaving all __PH_*__ tokens completely unchanged."

func BuildSystemPrompt(lang string, items []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional JSON translator. Your task is to translate the text **values** in the provided JSON object into %s. ", LanguageName(lang))
	b.WriteString("You MUST return a valid JSON object. ")
	b.WriteString("CRITICAL: The **keys** of the returned JSON object MUST be *exactly* the same as the keys in the input JSON object. ")
	b.WriteString("You MUST return ALL keys that were in the input. Do NOT add new keys. Do NOT remove keys. Do NOT translate the keys. ")
	b.WriteString("Only translate the string values. ")
	b.WriteString("CRITICAL: Preserve ALL punctuation, spacing, and formatting exactly as in the original. ")
	b.WriteString("If a value starts with a comma, space, or other punctuation (like \", your \"), you MUST preserve it exactly in the same position. ")
	b.WriteString("If a value ends with punctuation or spacing, preserve it. Do NOT remove or modify punctuation marks. ")
	b.WriteString("Preserve original placeholders like {{name}} or {count} exactly as-is.")
	if hasTokens(items) {
		b.WriteString(placeholderInstruction)
	}
	return b.String()
}

func BuildUserPrompt(lang string, items []Item) (string, error) {
	input, err := itemsJSON(items)
	if err != nil {
		return "", err
	}
	name := LanguageName(lang)

	var b strings.Builder
	fmt.Fprintf(&b, "Translate the values of the following JSON object into %s. ", name)
	b.WriteString("Return a valid JSON object with the exact same keys.\n\n")
	b.WriteString("CRITICAL RULES:\n")
	b.WriteString("1. The **keys** in your response MUST be EXACTLY the same as the keys in the input JSON.\n")
	b.WriteString("2. Each key must have its corresponding translated value - do NOT mix values between keys.\n")
	b.WriteString("3. Preserve the exact key names, including dots (.) in nested keys like 'Onboarding.welcomeModal.title'.\n")
	b.WriteString("4. The dot (.) character is part of the key name and MUST be preserved.\n")
	b.WriteString("5. Do NOT modify, escape, or change any key names.\n")
	b.WriteString("6. Return ALL keys that were in the input - one key, one value, in the same order.\n")
	b.WriteString("7. If a value is short (like \", your \" or \"on\"), translate it but keep the same structure.\n\n")
	fmt.Fprintf(&b, "Input JSON:\n%s\n\n", input)
	b.WriteString("Remember: Each key maps to ONE value. Do not mix them up.")
	return b.String(), nil
}

// itemsJSON renders items as an indented JSON object in item order.
func itemsJSON(items []Item) (string, error) {
	members := make([]tree.Member, 0, len(items))
	for _, it := range items {
		members = append(members, tree.Member{Key: it.Key, Value: tree.String(it.Text)})
	}
	out, err := tree.MarshalIndent(tree.Object(members...))
	if err != nil {
		return "", fmt.Errorf("encode prompt input: %w", err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func hasTokens(items []Item) bool {
	for _, it := range items {
		if placeholder.HasTokens(it.Text) {
			return true
		}
	}
	return false
}
