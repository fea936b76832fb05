package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestLocaleTag(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		expected   language.Tag
	}{
		{"empty", []string{"", ""}, language.English},
		{"posix", []string{"C"}, language.English},
		{"german utf8", []string{"de_DE.UTF-8"}, language.German},
		{"lc_all wins", []string{"de_AT@euro", "en_US.UTF-8"}, language.German},
		{"fallback to LANG", []string{"", "en_GB.UTF-8"}, language.English},
		{"unsupported", []string{"fr_FR.UTF-8"}, language.English},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LocaleTag(tt.candidates...)
			base, _ := got.Base()
			exp, _ := tt.expected.Base()
			assert.Equal(t, exp, base)
		})
	}
}

func TestGermanCatalog(t *testing.T) {
	p := NewPrinter(language.German)
	assert.Equal(t, "Vorheriger Regelsatz wiederhergestellt.\n", p.Sprintf(MsgRestored))

	en := NewPrinter(language.English)
	assert.Equal(t, MsgRestored, en.Sprintf(MsgRestored))
}

func TestAffirmative(t *testing.T) {
	for _, yes := range []string{"y", "Y", "yes", "YES please", " y\n", "j", "Ja"} {
		assert.True(t, Affirmative(yes), "%q should be affirmative", yes)
	}
	for _, no := range []string{"", "n", "no", "N", "\n", "maybe", "ok"} {
		assert.False(t, Affirmative(no), "%q should not be affirmative", no)
	}
}
