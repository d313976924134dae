package registry

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var stripPattern = regexp.MustCompile(`[^a-zа-яё0-9\s_]`)

// Normalize lowercases name, folds accented latin letters to their base
// letter, drops everything but latin and cyrillic letters, digits,
// underscores and whitespace, and collapses whitespace.
func Normalize(name string) string {
	name = foldLatin(strings.ToLower(strings.TrimSpace(name)))
	name = stripPattern.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

// foldLatin strips combining marks from latin letters only; й and ё are
// distinct cyrillic letters and stay composed.
func foldLatin(s string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(s) {
		if r < utf8.RuneSelf || !unicode.Is(unicode.Latin, r) {
			b.WriteRune(r)
			continue
		}
		for _, d := range norm.NFD.String(string(r)) {
			if !unicode.Is(unicode.Mn, d) {
				b.WriteRune(d)
			}
		}
	}
	return b.String()
}

// ButtonClass is the verdict of ClassifyButton.
type ButtonClass int

const (
	// ButtonUnclassified matched neither keyword list.
	ButtonUnclassified ButtonClass = iota
	// ButtonRoutine matched a routine keyword.
	ButtonRoutine
	// ButtonSystem matched only a maintenance keyword.
	ButtonSystem
)

func (c ButtonClass) String() string {
	switch c {
	case ButtonRoutine:
		return "routine"
	case ButtonSystem:
		return "system"
	default:
		return "unclassified"
	}
}

// IsRoutine reports whether a button with this class is offered as a routine.
// Unclassified buttons are included.
func (c ButtonClass) IsRoutine() bool {
	return c != ButtonSystem
}

// Keyword stems. Matching is by substring so stems cover inflections.
var (
	systemKeywords = []string{
		"identify", "reset", "restart", "update", "firmware",
		"обновлен", "сброс", "перезагр", "calibrat",
	}
	routineKeywords = []string{
		"routine", "scenario", "сценарий", "рутин", "scene",
		"clean", "уборк", "mop", "program", "schedule",
	}
)

// ClassifyButton classifies an auxiliary button on a vacuum device from its
// display name and translation key. A routine keyword in either wins over a
// system keyword in the name.
func ClassifyButton(name, translationKey string) ButtonClass {
	norm := Normalize(name)
	tk := strings.ToLower(translationKey)

	if containsAny(norm, routineKeywords) || containsAny(tk, routineKeywords) {
		return ButtonRoutine
	}
	if containsAny(norm, systemKeywords) {
		return ButtonSystem
	}
	return ButtonUnclassified
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// RoomAlias is a canonical room name with its accepted spellings.
type RoomAlias struct {
	Canonical string
	Aliases   []string
}

// RoomAliases lists the canonical rooms in seeding order.
var RoomAliases = []RoomAlias{
	{"кухня", []string{"kitchen", "кухни"}},
	{"гостиная", []string{"living_room", "living room", "гостинная", "зал"}},
	{"спальня", []string{"bedroom", "спальни"}},
	{"прихожка", []string{"прихожая", "коридор", "hallway", "corridor", "hall"}},
	{"ванная", []string{"bathroom", "ванна", "ванной", "bath"}},
	{"детская", []string{"nursery", "children", "child_room"}},
	{"кабинет", []string{"office", "study"}},
	{"балкон", []string{"balcony"}},
	{"туалет", []string{"toilet", "wc"}},
	{"столовая", []string{"dining_room", "dining"}},
}

// aliasIndex maps every normalised spelling to its canonical room.
var aliasIndex = func() map[string]string {
	idx := make(map[string]string)
	for _, r := range RoomAliases {
		idx[Normalize(r.Canonical)] = r.Canonical
		for _, a := range r.Aliases {
			if _, taken := idx[Normalize(a)]; !taken {
				idx[Normalize(a)] = r.Canonical
			}
		}
	}
	return idx
}()

// RoomGroup returns the canonical room a name belongs to.
func RoomGroup(name string) (string, bool) {
	canonical, ok := aliasIndex[Normalize(name)]
	return canonical, ok
}

// SameRoom reports whether two names refer to the same room, either
// directly or through the alias table.
func SameRoom(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	ga, okA := aliasIndex[na]
	gb, okB := aliasIndex[nb]
	return okA && okB && ga == gb
}

// capitalize upper-cases the first letter.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
