package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personaNames(personas []Persona) []string {
	names := make([]string, len(personas))
	for i, p := range personas {
		names[i] = p.Name
	}
	return names
}

func TestDefaultCatalogOrder(t *testing.T) {
	want := []string{"iphone-safari", "desktop-chrome", "basic"}
	assert.Equal(t, want, personaNames(DefaultExtractionCatalog().Personas()))
	assert.Equal(t, want, personaNames(DefaultDownloadCatalog().Personas()))
}

func TestExtractionPersonaCarriesFullHeaderSet(t *testing.T) {
	extraction := DefaultExtractionCatalog().Personas()[0]
	download := DefaultDownloadCatalog().Personas()[0]

	assert.Contains(t, extraction.Headers, "Sec-Fetch-Dest")
	assert.NotContains(t, download.Headers, "Sec-Fetch-Dest")
	assert.Equal(t, []string{"tiktok:api_hostname=api.tiktokv.com"}, extraction.ExtractorArgList())
	assert.Equal(t, []string{"tiktok:api_hostname=api.tiktokv.com"}, download.ExtractorArgList())
}

func TestCatalogHandsOutCopies(t *testing.T) {
	source := Persona{
		Name:          "custom",
		Headers:       map[string]string{"Accept": "*/*"},
		ExtractorArgs: map[string]map[string]string{"tiktok": {"k": "v"}},
	}
	catalog := NewCatalog(source)
	source.Headers["Accept"] = "mutated"

	first := catalog.Personas()
	first[0].Headers["Accept"] = "changed"
	first[0].ExtractorArgs["tiktok"]["k"] = "changed"
	first[0].Name = "renamed"

	again := catalog.Personas()[0]
	assert.Equal(t, "custom", again.Name)
	assert.Equal(t, "*/*", again.Headers["Accept"])
	assert.Equal(t, "v", again.ExtractorArgs["tiktok"]["k"])
}

func TestHeaderList(t *testing.T) {
	p := Persona{
		UserAgent: "UA",
		Referer:   "https://ref/",
		Headers:   map[string]string{"Z-Last": "1", "Accept": "*/*", "user-agent": "ignored"},
	}
	assert.Equal(t, []string{"User-Agent:UA", "Referer:https://ref/", "Accept:*/*", "Z-Last:1"}, p.HeaderList())

	basic := Persona{Name: "basic"}
	require.Empty(t, basic.HeaderList())
	require.Empty(t, basic.ExtractorArgList())
}
