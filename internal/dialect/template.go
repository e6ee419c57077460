package dialect

import (
	"regexp"
	"strings"
)

// segment is either literal text or a named placeholder with the pattern its
// value must satisfy when a fragment is read back.
type segment struct {
	literal string
	name    string
	pattern string
}

func lit(s string) segment { return segment{literal: s} }

func ph(name, pattern string) segment { return segment{name: name, pattern: pattern} }

// template is a fixed fragment grammar: literals are matched exactly (quoted
// for the regexp engine) and each placeholder becomes a named capture group.
type template struct {
	segments []segment
	re       *regexp.Regexp
}

func newTemplate(segs ...segment) template {
	var b strings.Builder
	b.WriteString("^")
	for _, s := range segs {
		if s.name == "" {
			b.WriteString(regexp.QuoteMeta(s.literal))
			continue
		}
		b.WriteString("(?P<" + s.name + ">" + s.pattern + ")")
	}
	b.WriteString("$")
	return template{segments: segs, re: regexp.MustCompile(b.String())}
}

func (t template) fill(values map[string]string) string {
	var b strings.Builder
	for _, s := range t.segments {
		if s.name == "" {
			b.WriteString(s.literal)
			continue
		}
		b.WriteString(values[s.name])
	}
	return b.String()
}

func (t template) match(s string) (map[string]string, bool) {
	m := t.re.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for i, name := range t.re.SubexpNames() {
		if name != "" {
			out[name] = m[i]
		}
	}
	return out, true
}

func (t template) String() string {
	return t.re.String()
}
