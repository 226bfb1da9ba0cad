package providers

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/emandor/lemme_grader/internal/failure"
)

// credential is a preprocessed key: a single token, or an id/secret pair for
// signature and token-exchange auth.
type credential struct {
	token  string
	id     string
	secret string
}

func prepareCredential(c Config, raw string) (credential, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return credential{}, failure.Newf(failure.CodeCredentialMissing, "%s API key is empty", c.Kind)
	}

	switch c.Auth {
	case AuthSignatureV3, AuthTokenExchange:
		return preparePair(c, s)
	case AuthBearer:
		s = stripBearer(s)
	}
	if hasSpace(s) {
		return credential{}, malformedWhitespace(c.Kind, "API key")
	}
	if len(s) < c.MinKeyLen {
		return credential{}, failure.Newf(failure.CodeCredentialFormat,
			"%s API key is too short (%d characters, at least %d expected)", c.Kind, len(s), c.MinKeyLen)
	}
	return credential{token: s}, nil
}

// stripBearer removes any number of leading "Bearer " prefixes people paste
// along with the key.
func stripBearer(s string) string {
	for {
		if len(s) < 7 || !strings.EqualFold(s[:7], "bearer ") {
			return s
		}
		s = strings.TrimSpace(s[7:])
	}
}

func pairNames(k Kind) (string, string) {
	if k == BaiduOCR {
		return "API Key", "Secret Key"
	}
	return "SecretId", "SecretKey"
}

func preparePair(c Config, s string) (credential, error) {
	idName, secretName := pairNames(c.Kind)
	s = strings.ReplaceAll(s, "：", ":")
	if strings.Count(s, ":") != 1 {
		return credential{}, failure.Newf(failure.CodeCredentialFormat,
			"%s credential must be %s:%s separated by exactly one colon", c.Kind, idName, secretName)
	}
	id, secret, _ := strings.Cut(s, ":")
	id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
	for _, part := range []struct {
		name, v string
	}{{idName, id}, {secretName, secret}} {
		if part.v == "" {
			return credential{}, failure.Newf(failure.CodeCredentialFormat, "%s %s is empty", c.Kind, part.name)
		}
		if hasSpace(part.v) {
			return credential{}, malformedWhitespace(c.Kind, part.name)
		}
		if len(part.v) < c.MinKeyLen {
			return credential{}, failure.Newf(failure.CodeCredentialFormat,
				"%s %s is too short (%d characters, at least %d expected)", c.Kind, part.name, len(part.v), c.MinKeyLen)
		}
	}
	return credential{id: id, secret: secret}, nil
}

func malformedWhitespace(k Kind, field string) error {
	return failure.New(failure.CodeCredentialFormat,
		fmt.Sprintf("%s %s contains malformed whitespace (spaces or line breaks); copy it again", k, field))
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
