package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/services"
)

const (
	defaultLokiPageSize = 5000
	defaultLokiMaxPages = 20
)

// LokiSource reads log lines through Loki's query_range API. Streams are
// selected by the "project" label and optionally narrowed by "log_group".
type LokiSource struct {
	baseURL  string
	client   *http.Client
	pageSize int
	maxPages int
}

func NewLokiSource(baseURL string) *LokiSource {
	return &LokiSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
		pageSize: defaultLokiPageSize,
		maxPages: defaultLokiMaxPages,
	}
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     []lokiStream `json:"result"`
	} `json:"data"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"` // [unix ns, line]
}

var labelValue = regexp.MustCompile(`^[A-Za-z0-9_./:\-]+$`)

// BuildLogQL renders the stream selector and line filter for a query.
func BuildLogQL(q services.LogQuery) (string, error) {
	if !labelValue.MatchString(q.ProjectID) {
		return "", fmt.Errorf("invalid project id %q", q.ProjectID)
	}
	selector := []string{fmt.Sprintf(`project=%q`, q.ProjectID)}
	if len(q.LogGroups) > 0 {
		groups := make([]string, 0, len(q.LogGroups))
		for _, g := range q.LogGroups {
			if !labelValue.MatchString(g) {
				return "", fmt.Errorf("invalid log group %q", g)
			}
			groups = append(groups, regexp.QuoteMeta(g))
		}
		selector = append(selector, fmt.Sprintf(`log_group=~%q`, strings.Join(groups, "|")))
	}

	query := "{" + strings.Join(selector, ", ") + "}"
	if q.FilterPattern != "" {
		query += fmt.Sprintf(` |~ %q`, q.FilterPattern)
	}
	return query, nil
}

// FetchEvents pages forward through the window until a short page or the
// page cap. Events come back ordered by timestamp. Each page restarts at the
// last timestamp seen, so lines sharing it are re-read and dropped by identity.
func (l *LokiSource) FetchEvents(ctx context.Context, q services.LogQuery) ([]services.RawEvent, error) {
	query, err := BuildLogQL(q)
	if err != nil {
		return nil, err
	}
	log := logger.WithProject(q.ProjectID, "loki_source")

	var events []services.RawEvent
	start := q.Start
	seen := map[string]struct{}{} // lines at the boundary timestamp
	for page := 0; page < l.maxPages; page++ {
		batch, last, err := l.queryRange(ctx, query, start, q.End)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, ev := range batch {
			if ev.Timestamp.Equal(start) {
				if _, dup := seen[lineKey(ev)]; dup {
					continue
				}
			}
			events = append(events, ev)
			added++
		}
		if len(batch) < l.pageSize {
			break
		}
		if page == l.maxPages-1 {
			log.WithField("events", len(events)).Warn("Loki page limit reached, window truncated")
			break
		}

		if added == 0 {
			// A full page of one timestamp, all seen: step past it.
			log.WithField("timestamp", last).Warn("Loki page holds a single timestamp, skipping past it")
			start = last.Add(time.Nanosecond)
			seen = map[string]struct{}{}
			continue
		}
		if !last.Equal(start) {
			seen = map[string]struct{}{}
		}
		for _, ev := range batch {
			if ev.Timestamp.Equal(last) {
				seen[lineKey(ev)] = struct{}{}
			}
		}
		start = last
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	log.WithFields(map[string]interface{}{"events": len(events), "query": query}).Debug("Fetched events from Loki")
	return events, nil
}

// lineKey identifies a log line by its stream labels and message.
func lineKey(ev services.RawEvent) string {
	keys := make([]string, 0, len(ev.Labels))
	for k := range ev.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ev.Labels[k])
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteString(ev.Message)
	return b.String()
}

func (l *LokiSource) queryRange(ctx context.Context, query string, start, end time.Time) ([]services.RawEvent, time.Time, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(l.pageSize))
	params.Set("direction", "forward")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/loki/api/v1/query_range?"+params.Encode(), nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loki request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, time.Time{}, fmt.Errorf("loki returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var lr lokiResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode loki response: %w", err)
	}
	if lr.Status != "success" {
		return nil, time.Time{}, fmt.Errorf("loki query status %q", lr.Status)
	}

	var events []services.RawEvent
	var last time.Time
	for _, stream := range lr.Data.Result {
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			ts := time.Unix(0, ns).UTC()
			if ts.After(last) {
				last = ts
			}
			events = append(events, services.RawEvent{
				Timestamp: ts,
				Message:   v[1],
				LogGroup:  stream.Stream["log_group"],
				LogStream: firstLabel(stream.Stream, "log_stream", "stream", "pod"),
				Labels:    stream.Stream,
			})
		}
	}
	return events, last, nil
}

func firstLabel(labels map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := labels[k]; v != "" {
			return v
		}
	}
	return ""
}
