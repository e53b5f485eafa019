package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/services"
)

func TestBuildLogQL(t *testing.T) {
	tests := []struct {
		name  string
		query services.LogQuery
		want  string
	}{
		{"project only", services.LogQuery{ProjectID: "checkout"}, `{project="checkout"}`},
		{
			"groups and filter",
			services.LogQuery{ProjectID: "checkout", LogGroups: []string{"/ecs/orders", "/ecs/api"}, FilterPattern: "ERROR|WARN"},
			`{project="checkout", log_group=~"/ecs/orders|/ecs/api"} |~ "ERROR|WARN"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildLogQL(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := BuildLogQL(services.LogQuery{ProjectID: `x"} or {a="b`})
	assert.Error(t, err)
}

func TestLokiFetchEvents(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		assert.Equal(t, strconv.FormatInt(base.UnixNano(), 10), r.URL.Query().Get("start"))
		assert.Equal(t, "forward", r.URL.Query().Get("direction"))
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"streams","result":[
			{"stream":{"project":"p1","log_group":"/ecs/orders","log_stream":"orders/abc"},"values":[["%d","ERROR boom"]]},
			{"stream":{"project":"p1","log_group":"/ecs/api"},"values":[["%d","WARN slow"]]}
		]}}`, base.Add(2*time.Minute).UnixNano(), base.Add(time.Minute).UnixNano())
	}))
	defer srv.Close()

	src := NewLokiSource(srv.URL)
	events, err := src.FetchEvents(context.Background(), services.LogQuery{ProjectID: "p1", Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, `{project="p1"}`, gotQuery)

	require.Len(t, events, 2)
	assert.Equal(t, "WARN slow", events[0].Message)
	assert.Equal(t, "/ecs/orders", events[1].LogGroup)
	assert.Equal(t, "orders/abc", events[1].LogStream)
	assert.True(t, events[1].Timestamp.Equal(base.Add(2*time.Minute)))
}

func TestLokiFetchEventsPages(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t0, t1, t2 := base.UnixNano(), base.Add(time.Second).UnixNano(), base.Add(2*time.Second).UnixNano()
	pages := []string{
		fmt.Sprintf(`[["%d","a"],["%d","b"]]`, t0, t1),
		// restarts at t1: b is re-read, c shares its timestamp
		fmt.Sprintf(`[["%d","b"],["%d","c"]]`, t1, t1),
		// nothing new at t1
		fmt.Sprintf(`[["%d","b"],["%d","c"]]`, t1, t1),
		fmt.Sprintf(`[["%d","d"]]`, t2),
	}

	var mu sync.Mutex
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, r.URL.Query().Get("start"))
		page := len(starts) - 1
		mu.Unlock()
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"streams","result":[{"stream":{"project":"p1"},"values":%s}]}}`, pages[page])
	}))
	defer srv.Close()

	src := NewLokiSource(srv.URL)
	src.pageSize = 2

	events, err := src.FetchEvents(context.Background(), services.LogQuery{ProjectID: "p1", Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)

	var messages []string
	for _, ev := range events {
		messages = append(messages, ev.Message)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, messages)
	assert.Equal(t, []string{
		strconv.FormatInt(t0, 10),
		strconv.FormatInt(t1, 10),
		strconv.FormatInt(t1, 10),
		strconv.FormatInt(t1+1, 10),
	}, starts)
}

func TestLokiFetchEventsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "parse error", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewLokiSource(srv.URL).FetchEvents(context.Background(), services.LogQuery{ProjectID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
