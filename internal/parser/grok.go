package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Grok building blocks referenced as %{NAME} or %{NAME:group}
var grokPatterns = map[string]string{
	"USERNAME":   `[a-zA-Z0-9._-]+`,
	"USER":       `%{USERNAME}`,
	"INT":        `(?:[+-]?(?:[0-9]+))`,
	"POSINT":     `\b(?:[1-9][0-9]*)\b`,
	"NUMBER":     `(?:%{INT}(?:\.[0-9]+)?)`,
	"WORD":       `\b\w+\b`,
	"NOTSPACE":   `\S+`,
	"SPACE":      `\s*`,
	"DATA":       `.*?`,
	"GREEDYDATA": `.*`,

	"MONTHDAY":          `(?:(?:0[1-9])|(?:[12][0-9])|(?:3[01])|[1-9])`,
	"MONTHNUM":          `(?:0?[1-9]|1[0-2])`,
	"MONTH":             `\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\b`,
	"YEAR":              `(?:\d\d){1,2}`,
	"HOUR":              `(?:2[0123]|[01]?[0-9])`,
	"MINUTE":            `(?:[0-5][0-9])`,
	"SECOND":            `(?:(?:[0-5]?[0-9]|60)(?:[:.,][0-9]+)?)`,
	"TIME":              `%{HOUR}:%{MINUTE}(?::%{SECOND})?`,
	"ISO8601_TIMEZONE":  `(?:Z|[+-]%{HOUR}(?::?%{MINUTE}))`,
	"TIMESTAMP_ISO8601": `%{YEAR}-%{MONTHNUM}-%{MONTHDAY}[T ]%{HOUR}:?%{MINUTE}(?::?%{SECOND})?%{ISO8601_TIMEZONE}?`,
	"HTTPDATE":          `%{MONTHDAY}/%{MONTH}/%{YEAR}:%{TIME} %{INT}`,

	"IPV4":     `(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`,
	"IPV6":     `(?:[0-9A-Fa-f]{0,4}:){2,7}[0-9A-Fa-f]{0,4}`,
	"IP":       `(?:%{IPV4}|%{IPV6})`,
	"HOSTNAME": `\b(?:[0-9A-Za-z][0-9A-Za-z-]{0,62})(?:\.(?:[0-9A-Za-z][0-9A-Za-z-]{0,62}))*(?:\.?|\b)`,
	"IPORHOST": `(?:%{IP}|%{HOSTNAME})`,

	"LOGLEVEL": `(?:DEBUG|debug|TRACE|trace|INFO|info|WARN(?:ING)?|warn(?:ing)?|ERROR|error|ERR|err|FATAL|fatal|CRIT|crit)`,
}

// Named templates usable as PatternConfig.Grok. Groups named timestamp, level,
// service and message populate the entry; anything else lands in metadata.
var grokTemplates = map[string]string{
	"syslog": `%{MONTH} +%{MONTHDAY} %{TIME} %{HOSTNAME:host} %{DATA:service}(?:\[%{POSINT:pid}\])?: %{GREEDYDATA:message}`,
	"apache": `%{IPORHOST:client} %{USER:ident} %{USER:auth} \[%{HTTPDATE:timestamp}\] "(?:%{WORD:verb} %{NOTSPACE:request}(?: HTTP/%{NUMBER:http_version})?|%{DATA:raw_request})" %{NUMBER:status} (?:%{NUMBER:bytes}|-)`,
	"nginx":  `%{IPORHOST:client} - %{USER:ident} \[%{HTTPDATE:timestamp}\] "(?:%{WORD:verb} %{NOTSPACE:request}(?: HTTP/%{NUMBER:http_version})?|%{DATA:raw_request})" %{NUMBER:status} %{NUMBER:bytes} "%{DATA:referrer}" "%{DATA:agent}"`,
	"java":   `%{TIMESTAMP_ISO8601:timestamp} %{LOGLEVEL:level} \[%{DATA:thread}\] %{DATA:service} - %{GREEDYDATA:message}`,
	"python": `%{TIMESTAMP_ISO8601:timestamp} - %{DATA:service} - %{LOGLEVEL:level} - %{GREEDYDATA:message}`,
	"go":     `%{TIMESTAMP_ISO8601:timestamp} %{LOGLEVEL:level} %{GREEDYDATA:message}`,
}

var grokRef = regexp.MustCompile(`%\{([A-Z0-9_]+)(?::([a-z0-9_]+))?\}`)

// maxGrokDepth bounds nested %{...} expansion
const maxGrokDepth = 16

// ExpandGrok resolves a template name or a grok expression into a regular expression
func ExpandGrok(expr string) (string, error) {
	if tmpl, ok := grokTemplates[expr]; ok {
		expr = tmpl
	}

	expanded := expr
	for depth := 0; depth < maxGrokDepth; depth++ {
		if !grokRef.MatchString(expanded) {
			return expanded, nil
		}

		var unknown string
		expanded = grokRef.ReplaceAllStringFunc(expanded, func(ref string) string {
			m := grokRef.FindStringSubmatch(ref)
			body, ok := grokPatterns[m[1]]
			if !ok {
				if unknown == "" {
					unknown = m[1]
				}
				return ref
			}
			if m[2] != "" {
				return fmt.Sprintf("(?P<%s>%s)", m[2], body)
			}
			return body
		})
		if unknown != "" {
			return "", fmt.Errorf("unknown grok pattern: %s", unknown)
		}
	}

	return "", fmt.Errorf("grok expression nests deeper than %d levels", maxGrokDepth)
}

// GrokTemplates returns the names of the built-in grok templates
func GrokTemplates() []string {
	names := make([]string, 0, len(grokTemplates))
	for name := range grokTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isGrokTemplate reports whether expr names a built-in template
func isGrokTemplate(expr string) bool {
	_, ok := grokTemplates[strings.TrimSpace(expr)]
	return ok
}
