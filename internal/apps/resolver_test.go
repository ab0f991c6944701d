package apps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferAliasContext(t *testing.T) {
	ns, ident, display := InferAliasContext("android", "YouTube", "")
	assert.Equal(t, "android", ns)
	assert.Equal(t, "youtube", ident)
	assert.Equal(t, "YouTube", display)

	// Domain wins over app name regardless of platform.
	ns, ident, display = InferAliasContext("windows", "Firefox", "News.Example.COM")
	assert.Equal(t, "web", ns)
	assert.Equal(t, "news.example.com", ident)
	assert.Equal(t, "News.Example.COM", display)

	ns, ident, display = InferAliasContext("", "", "")
	assert.Equal(t, "generic", ns)
	assert.Equal(t, "unknown", ident)
	assert.Equal(t, "unknown", display)
}

func TestNormalizeIdent(t *testing.T) {
	assert.Equal(t, "com.example.app", NormalizeIdent("android", " Com.Example.App "))
	assert.Equal(t, "example.com", NormalizeIdent("web", "Example.COM"))
	assert.Equal(t, "Notepad", NormalizeIdent("windows", " Notepad "))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "youtube", Slugify("YouTube"))
	assert.Equal(t, "visual-studio-code", Slugify("Visual Studio Code"))
	assert.Equal(t, "app-2", Slugify("--App  2!!"))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestFallbackDisplayName(t *testing.T) {
	assert.Equal(t, "Example", FallbackDisplayName("web", "www.example.com"))
	assert.Equal(t, "Example", FallbackDisplayName("web", "news.example.com/path"))
	assert.Equal(t, "Maps", FallbackDisplayName("android", "com.google.android.maps"))
	assert.Equal(t, "My App", FallbackDisplayName("android", "com.example.my_app"))
	assert.Equal(t, "Notepad", FallbackDisplayName("windows", "notepad"))
	assert.Equal(t, "Unknown", FallbackDisplayName("android", ""))
}
