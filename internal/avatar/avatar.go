// Package avatar derives per-user identity visuals from a username: the
// dicebear sprite URL the web client embeds, plus a badge (initials and a
// stable color) that a terminal can actually draw.
package avatar

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"unicode"
)

// Sprite collection used for every generated avatar URL.
const sprite = "adventurer-neutral"

// palette holds ANSI-256 color codes that read well on both light and dark
// backgrounds. A username always hashes to the same entry.
var palette = [...]string{"203", "214", "156", "117", "183", "222", "75", "168"}

// Profile is everything a client needs to present one user.
type Profile struct {
	Username  string
	AvatarURL string
	Initials  string
	Color     string
}

// URL returns the dicebear avatar for a username, path-escaped so names with
// spaces or slashes still form a valid URL.
func URL(username string) string {
	return fmt.Sprintf("https://avatars.dicebear.com/api/%s/%s.svg", sprite, url.PathEscape(username))
}

// New builds the profile for one username.
func New(username string) Profile {
	return Profile{
		Username:  username,
		AvatarURL: URL(username),
		Initials:  initials(username),
		Color:     colorFor(username),
	}
}

// Profiles maps a roster broadcast to profiles, preserving order.
func Profiles(usernames []string) []Profile {
	out := make([]Profile, 0, len(usernames))
	for _, u := range usernames {
		out = append(out, New(u))
	}
	return out
}

// initials takes the first rune of up to two words, uppercased. Empty or
// all-space names fall back to "?" so the badge never collapses.
func initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "?"
	}
	var b strings.Builder
	for i, f := range fields {
		if i == 2 {
			break
		}
		for _, r := range f {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	return b.String()
}

func colorFor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return palette[h.Sum32()%uint32(len(palette))]
}
