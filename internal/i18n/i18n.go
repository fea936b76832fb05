// Package i18n provides the localized printer used for operator-facing CLI text.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we carry translations for
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Operator-facing message keys. They double as the English text.
const (
	MsgApplying      = "Applying new ruleset %s (%s)...\n"
	MsgPrompt        = "Can you establish NEW connections to the machine? (y/N) "
	MsgConfirmed     = "... then my job is done. See you next time.\n"
	MsgDeclined      = "Reverting to the previous ruleset...\n"
	MsgRestored      = "Previous ruleset restored.\n"
	MsgTimedOut      = "Timeout. Something happened (or did not). Better play it safe...\nThe watchdog will restore the previous ruleset in a moment.\n"
	MsgExpired       = "The confirmation deadline passed while the new ruleset was loading. Reverting...\n"
	MsgLateConfirm   = "The confirmation arrived after the watchdog had already fired; the previous ruleset was restored.\n"
	MsgManualAttn    = "Automatic cleanup has NOT happened. Manual intervention may be required.\n"
	MsgProbeFailed   = "None of the probe targets answered after the change; reverting.\n"
	MsgWroteRuleset  = "Applied ruleset written to %s.\n"
	MsgLockHeldBy    = "Another transaction is in progress for %s (tx %s, started %s).\n"
	MsgNoTransaction = "No transaction in progress.\n"
)

func init() {
	set := func(key, de string) {
		_ = message.SetString(language.German, key, de)
	}
	set(MsgApplying, "Wende neuen Regelsatz %s an (%s)...\n")
	set(MsgPrompt, "Können NEUE Verbindungen zur Maschine aufgebaut werden? (j/N) ")
	set(MsgConfirmed, "... dann ist meine Arbeit getan. Bis zum nächsten Mal.\n")
	set(MsgDeclined, "Stelle den vorherigen Regelsatz wieder her...\n")
	set(MsgRestored, "Vorheriger Regelsatz wiederhergestellt.\n")
	set(MsgTimedOut, "Zeitüberschreitung. Sicher ist sicher...\nDer Watchdog stellt den vorherigen Regelsatz gleich wieder her.\n")
	set(MsgExpired, "Die Frist ist abgelaufen, während der neue Regelsatz geladen wurde. Stelle wieder her...\n")
	set(MsgManualAttn, "Es wurde NICHT automatisch aufgeräumt. Eventuell ist manuelles Eingreifen nötig.\n")
	set(MsgNoTransaction, "Keine Transaktion aktiv.\n")
}

// MatchLanguage returns the best matching supported language for the given tags
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(LocaleTag(os.Getenv("LC_ALL"), os.Getenv("LANG")))
}

// LocaleTag resolves POSIX locale strings ("de_DE.UTF-8") to a supported tag.
// The first non-empty candidate wins.
func LocaleTag(candidates ...string) language.Tag {
	lang := ""
	for _, c := range candidates {
		if c != "" {
			lang = c
			break
		}
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return DefaultLang
	}

	// Strip encoding and modifier (.UTF-8, @euro)
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")

	tag, err := language.Parse(lang)
	if err != nil {
		return MatchLanguage(lang)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}

// Affirmative reports whether an answer starts with an affirmative token
// in any supported language (y/Y, and j/J for German).
func Affirmative(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return strings.HasPrefix(a, "y") || strings.HasPrefix(a, "j")
}
