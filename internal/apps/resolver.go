package apps

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

var titleCaser = cases.Title(language.English)

// InferAliasContext maps a raw usage record onto the alias space used by
// the app directory. Web records key on the domain; everything else keys
// on the lowercased app name within the platform namespace.
func InferAliasContext(platform, appName, domain string) (namespace, ident, display string) {
	platform = strings.ToLower(strings.TrimSpace(platform))

	if domain != "" {
		d := strings.ToLower(strings.TrimSpace(domain))
		display = strings.TrimSpace(domain)
		if display == "" {
			display = d
		}
		return "web", d, display
	}

	appName = strings.TrimSpace(appName)
	ident = strings.ToLower(appName)
	if ident == "" {
		ident = "unknown"
	}
	display = appName
	if display == "" {
		display = ident
	}
	if platform == "" {
		platform = "generic"
	}
	return platform, ident, display
}

// NormalizeIdent canonicalizes an alias identifier. Web domains and
// Android package names are case-insensitive; other namespaces keep the
// caller's casing.
func NormalizeIdent(namespace, ident string) string {
	ident = strings.TrimSpace(ident)
	if namespace == "web" || namespace == "android" {
		return strings.ToLower(ident)
	}
	return ident
}

// Slugify derives a URL-safe canonical id fragment from a display name.
func Slugify(value string) string {
	value = strings.ToLower(value)
	value = nonSlugChars.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-")
	return value
}

// FallbackDisplayName produces a human-readable name when the client
// submitted none: the registrable label for web domains, the last
// package segment for Android, the title-cased ident otherwise.
func FallbackDisplayName(namespace, ident string) string {
	if ident == "" {
		return "Unknown"
	}
	switch namespace {
	case "web":
		core := strings.SplitN(ident, "/", 2)[0]
		core = strings.TrimPrefix(core, "www.")
		parts := strings.Split(core, ".")
		if len(parts) > 1 {
			core = parts[len(parts)-2]
		}
		if core == "" {
			return ident
		}
		return strings.ToUpper(core[:1]) + core[1:]
	case "android":
		parts := strings.Split(ident, ".")
		last := parts[len(parts)-1]
		return titleCaser.String(strings.ReplaceAll(last, "_", " "))
	default:
		return titleCaser.String(ident)
	}
}
