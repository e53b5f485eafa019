package services

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/autolog/logsentinel/internal/models"
)

const (
	UnknownService     = "unknown-service"
	maxSignatureRunes  = 200
	maxSampleRunes     = 1000
	summaryIDSeparator = "#"
)

// NormalizedEvent is a raw event reduced to its grouping key.
type NormalizedEvent struct {
	Service   string
	Signature string
	Severity  models.Severity
	Timestamp time.Time
	Message   string
}

// Key is the summary id of the group this event belongs to.
func (e NormalizedEvent) Key() string {
	return SummaryID(e.Service, e.Signature, e.Severity)
}

// ParseResult is what a single extractor returns: either a value or nothing.
type ParseResult struct {
	value   string
	matched bool
}

func Matched(value string) ParseResult {
	return ParseResult{value: value, matched: true}
}

var Unmatched = ParseResult{}

func (r ParseResult) Value() (string, bool) {
	return r.value, r.matched
}

// eventView is the read-only input shared by all extractors of one event.
type eventView struct {
	raw    RawEvent
	text   string // message field of a JSON payload, the raw message otherwise
	fields map[string]interface{}
}

type extractor func(ev *eventView) ParseResult

// firstMatch runs the chain in order and returns the first matched value.
func firstMatch(ev *eventView, chain []extractor, fallback string) string {
	for _, extract := range chain {
		if v, ok := extract(ev).Value(); ok {
			return v
		}
	}
	return fallback
}

var (
	reLevelKV    = regexp.MustCompile(`(?i)\b(?:level|lvl|severity)\s*[=:]\s*"?([A-Za-z]+)`)
	reLevelToken = regexp.MustCompile(`(?:^|[\s\[(|])(FATAL|CRITICAL|CRIT|ERROR|ERR|WARNING|WARN|INFO|DEBUG|TRACE)(?:$|[\s\]):|,])`)
	reServiceKV  = regexp.MustCompile(`(?i)\b(?:service|service_name|app)\s*[=:]\s*"?([A-Za-z0-9_.\-]+)`)

	reException = regexp.MustCompile(`\b((?:[A-Za-z_$][\w$]*\.)*[A-Z][\w$]*(?:Exception|Error|Throwable|Panic))\b`)
	reJavaFrame = regexp.MustCompile(`\bat\s+([\w$.<>]+)\(([\w$\-]+)\.\w+:(\d+)\)`)
	rePyFrame   = regexp.MustCompile(`File\s+"([^"]+)",\s+line\s+(\d+)`)
	reFileLine  = regexp.MustCompile(`\b([\w\-]+)\.(?:java|py|go|js|ts|rb|cs|kt|scala|php|cpp|c)[:\s,]+(?:line\s+)?(\d+)`)
	reFuncFrame = regexp.MustCompile(`\bat\s+([\w$.]+)\(`)

	reTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	reClock     = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(?:[.,]\d+)?\b`)
	reUUID      = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reEmail     = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	reIP        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	reHex       = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b|\b[0-9a-f]{12,}\b`)
	rePath      = regexp.MustCompile(`(?:^|\s)(/[\w.\-]+){2,}/?`)
	reNumber    = regexp.MustCompile(`[A-Za-z_\-]*\d[\w\-]*`)
	reSpaces    = regexp.MustCompile(`\s+`)
)

var severityChain = []extractor{
	jsonLevel,
	labelLevel,
	keyValueLevel,
	levelToken,
	keywordLevel,
}

var serviceChain = []extractor{
	jsonService,
	labelService,
	keyValueService,
	logGroupService,
	logStreamService,
}

var signatureChain = []extractor{
	exceptionAtLocation,
	exceptionInFunction,
	messageTemplate,
}

// Normalize maps a raw event to (service, signature, severity). It is pure:
// the same event always yields the same result.
func Normalize(event RawEvent) NormalizedEvent {
	ev := newEventView(event)
	return NormalizedEvent{
		Service:   firstMatch(ev, serviceChain, UnknownService),
		Signature: firstMatch(ev, signatureChain, "empty message"),
		Severity:  models.Severity(firstMatch(ev, severityChain, string(models.SeverityInfo))),
		Timestamp: event.Timestamp,
		Message:   truncateRunes(strings.TrimSpace(event.Message), maxSampleRunes),
	}
}

// SummaryID is the composite key of a group. It only depends on its inputs.
func SummaryID(service, signature string, severity models.Severity) string {
	return strings.Join([]string{service, signature, string(severity)}, summaryIDSeparator)
}

func newEventView(event RawEvent) *eventView {
	ev := &eventView{raw: event, text: strings.TrimSpace(event.Message)}
	if strings.HasPrefix(ev.text, "{") {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(ev.text), &fields); err == nil {
			ev.fields = fields
			if msg := stringField(fields, "message", "msg", "error", "err"); msg != "" {
				ev.text = msg
			}
		}
	}
	return ev
}

func stringField(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// normalizeLevel maps the many spellings of a level onto the four severities.
// FATAL and CRITICAL collapse into ERROR.
func normalizeLevel(level string) ParseResult {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "DBG", "TRACE":
		return Matched(string(models.SeverityDebug))
	case "INFO", "INF", "NOTICE":
		return Matched(string(models.SeverityInfo))
	case "WARN", "WARNING":
		return Matched(string(models.SeverityWarn))
	case "ERROR", "ERR", "FATAL", "CRITICAL", "CRIT", "PANIC", "SEVERE", "EMERGENCY", "ALERT":
		return Matched(string(models.SeverityError))
	default:
		return Unmatched
	}
}

func jsonLevel(ev *eventView) ParseResult {
	if ev.fields == nil {
		return Unmatched
	}
	return normalizeLevel(stringField(ev.fields, "level", "severity", "lvl", "log_level", "levelname"))
}

func labelLevel(ev *eventView) ParseResult {
	for _, k := range []string{"level", "detected_level", "severity"} {
		if v, ok := ev.raw.Labels[k]; ok {
			if r := normalizeLevel(v); r.matched {
				return r
			}
		}
	}
	return Unmatched
}

func keyValueLevel(ev *eventView) ParseResult {
	m := reLevelKV.FindStringSubmatch(ev.text)
	if m == nil {
		return Unmatched
	}
	return normalizeLevel(m[1])
}

func levelToken(ev *eventView) ParseResult {
	m := reLevelToken.FindStringSubmatch(ev.text)
	if m == nil {
		return Unmatched
	}
	return normalizeLevel(m[1])
}

func keywordLevel(ev *eventView) ParseResult {
	lower := strings.ToLower(ev.text)
	for _, kw := range []string{"exception", "error", "fatal", "panic", "traceback"} {
		if strings.Contains(lower, kw) {
			return Matched(string(models.SeverityError))
		}
	}
	for _, kw := range []string{"warn", "timeout", "timed out", "deprecated"} {
		if strings.Contains(lower, kw) {
			return Matched(string(models.SeverityWarn))
		}
	}
	return Unmatched
}

func jsonService(ev *eventView) ParseResult {
	if ev.fields == nil {
		return Unmatched
	}
	if s := stringField(ev.fields, "service", "service_name", "app", "application", "source", "logger"); s != "" {
		return Matched(s)
	}
	return Unmatched
}

func labelService(ev *eventView) ParseResult {
	for _, k := range []string{"service", "service_name", "app", "job"} {
		if v := strings.TrimSpace(ev.raw.Labels[k]); v != "" {
			return Matched(v)
		}
	}
	return Unmatched
}

func keyValueService(ev *eventView) ParseResult {
	if m := reServiceKV.FindStringSubmatch(ev.text); m != nil {
		return Matched(m[1])
	}
	return Unmatched
}

// logGroupService takes the last path segment of the log group,
// e.g. "/aws/lambda/orders-api" -> "orders-api".
func logGroupService(ev *eventView) ParseResult {
	group := strings.Trim(strings.TrimSpace(ev.raw.LogGroup), "/")
	if group == "" {
		return Unmatched
	}
	return Matched(path.Base(group))
}

// logStreamService uses the stream prefix, e.g. "payments/i-0abc" -> "payments".
func logStreamService(ev *eventView) ParseResult {
	prefix, _, ok := strings.Cut(strings.TrimSpace(ev.raw.LogStream), "/")
	if !ok || prefix == "" {
		return Unmatched
	}
	return Matched(prefix)
}

// exceptionClass returns the simple name of the first exception class in the text.
func exceptionClass(text string) string {
	m := reException.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := m[1]
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func exceptionAtLocation(ev *eventView) ParseResult {
	class := exceptionClass(ev.raw.Message)
	if class == "" {
		return Unmatched
	}
	if m := reJavaFrame.FindStringSubmatch(ev.raw.Message); m != nil {
		return Matched(truncateRunes(class+"@"+m[2]+":"+m[3], maxSignatureRunes))
	}
	// Python tracebacks list the raising frame last.
	if frames := rePyFrame.FindAllStringSubmatch(ev.raw.Message, -1); len(frames) > 0 {
		m := frames[len(frames)-1]
		file := strings.TrimSuffix(path.Base(m[1]), path.Ext(m[1]))
		return Matched(truncateRunes(class+"@"+file+":"+m[2], maxSignatureRunes))
	}
	if m := reFileLine.FindStringSubmatch(ev.raw.Message); m != nil {
		return Matched(truncateRunes(class+"@"+m[1]+":"+m[2], maxSignatureRunes))
	}
	return Unmatched
}

func exceptionInFunction(ev *eventView) ParseResult {
	class := exceptionClass(ev.raw.Message)
	if class == "" {
		return Unmatched
	}
	m := reFuncFrame.FindStringSubmatch(ev.raw.Message)
	if m == nil {
		return Unmatched
	}
	fn := m[1]
	parts := strings.Split(fn, ".")
	if len(parts) > 2 {
		fn = strings.Join(parts[len(parts)-2:], ".")
	}
	return Matched(truncateRunes(class+"@"+fn, maxSignatureRunes))
}

func messageTemplate(ev *eventView) ParseResult {
	tpl := templateMessage(ev.text)
	if tpl == "" {
		return Unmatched
	}
	return Matched(tpl)
}

// templateMessage replaces the variable parts of a message with placeholders.
// Order matters: timestamps and UUIDs go before the generic number rule eats them.
func templateMessage(msg string) string {
	out := reTimestamp.ReplaceAllString(msg, "<TS>")
	out = reClock.ReplaceAllString(out, "<TS>")
	out = reUUID.ReplaceAllString(out, "<UUID>")
	out = reEmail.ReplaceAllString(out, "<EMAIL>")
	out = reIP.ReplaceAllString(out, "<IP>")
	out = reHex.ReplaceAllString(out, "<HEX>")
	out = rePath.ReplaceAllString(out, " <PATH>")
	out = reNumber.ReplaceAllString(out, "<N>")
	out = strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))
	return truncateRunes(out, maxSignatureRunes)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
