package audit

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: bearer values before bare JWTs, CNPJ before CPF.
var defaultRules = []rule{
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer " + redacted},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`), "[JWT]"},
	{regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`), "[CNPJ]"},
	{regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`), "[CPF]"},
	{regexp.MustCompile(`\b\d{1,2}\.\d{3}\.\d{3}-[\dXx]\b`), "[RG]"},
}

var credentialKeys = []string{"password", "passwd", "token", "secret", "authorization", "cookie", "credential"}

// Redactor strips personal document numbers and credentials from free
// text and metadata.
type Redactor struct {
	rules []rule
	keys  []string
}

// NewRedactor returns a redactor with the built-in rules. extraKeys are
// additional metadata keys whose values are always removed.
func NewRedactor(extraKeys ...string) *Redactor {
	keys := append([]string(nil), credentialKeys...)
	for _, k := range extraKeys {
		keys = append(keys, strings.ToLower(k))
	}
	return &Redactor{rules: defaultRules, keys: keys}
}

// String redacts s.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Metadata returns a redacted copy of md.
func (r *Redactor) Metadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if r.sensitiveKey(k) {
			out[k] = redacted
			continue
		}
		out[k] = r.String(v)
	}
	return out
}

func (r *Redactor) sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range r.keys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Sensitive reports whether any rule matches s.
func (r *Redactor) Sensitive(s string) bool {
	if s == "" {
		return false
	}
	for _, rl := range r.rules {
		if rl.re.MatchString(s) {
			return true
		}
	}
	return false
}

// Event returns a copy of e with every caller-supplied string field and
// the metadata redacted. Type, Decision and OriginHash are set by the
// pipeline and left alone.
func (r *Redactor) Event(e Event) Event {
	for _, f := range []*string{
		&e.PrincipalID,
		&e.TenantID,
		&e.Action,
		&e.Resource,
		&e.Reason,
		&e.RuleID,
		&e.ErrorKind,
		&e.CorrelationID,
	} {
		*f = r.String(*f)
	}
	e.Metadata = r.Metadata(e.Metadata)
	return e
}
