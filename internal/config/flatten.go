package config

import (
	"net/url"
	"sort"
	"strings"
)

// secretKeys are the dotted keys masked by MaskSecrets and `config set`.
var secretKeys = map[string]bool{
	"llm.api_key":         true,
	"telegram.token":      true,
	"gmail.client_secret": true,
	"gmail.refresh_token": true,
	"discord.bot_token":   true,
	"github.token":        true,
	"dataset.dsn":         true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested maps into dotted keys:
// {"poll": {"window": 5}} becomes {"poll.window": 5}. Lists stay values and
// empty nested maps produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar sitting where a section is
// needed is replaced by the section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		node := out
		for {
			head, rest, nested := strings.Cut(key, ".")
			if !nested {
				node[head] = v
				break
			}
			child, ok := node[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[head] = child
			}
			node, key = child, rest
		}
	}
	return out
}

// SortedKeys returns the keys of flat in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of flat with credentials hidden. Tokens keep
// their last four characters ("***1234"); a DSN URL keeps everything but
// its password. Empty and non-string values pass through.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			out[k] = v
			continue
		}
		if k == "dataset.dsn" {
			out[k] = maskDSN(s)
			continue
		}
		out[k] = maskToken(s)
	}
	return out
}

func maskToken(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// maskDSN redacts the password of a URL-style DSN. Anything that is not a
// URL with credentials is masked like a token.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		if strings.HasPrefix(dsn, "file:") {
			return dsn
		}
		return maskToken(dsn)
	}
	if _, has := u.User.Password(); !has {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "xxx")
	return strings.Replace(u.String(), ":xxx@", ":***@", 1)
}
