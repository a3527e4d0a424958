package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveGrade(t *testing.T) {
	before := testutil.ToFloat64(GradesTotal.WithLabelValues("add_numbers", "passed"))
	ObserveGrade("add_numbers", "passed", 150*time.Millisecond)
	after := testutil.ToFloat64(GradesTotal.WithLabelValues("add_numbers", "passed"))
	assert.Equal(t, before+1, after)
}

func TestObserveChat(t *testing.T) {
	before := testutil.ToFloat64(ChatTurnsTotal.WithLabelValues("openai", "error"))
	ObserveChat("openai", "error", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(ChatTurnsTotal.WithLabelValues("openai", "error")))
}

func TestGauges(t *testing.T) {
	SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(ActiveSessions))

	before := testutil.ToFloat64(RateLimitedTotal)
	IncrementRateLimited()
	assert.Equal(t, before+1, testutil.ToFloat64(RateLimitedTotal))
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 429: "4xx", 502: "5xx"}
	for code, want := range cases {
		assert.Equal(t, want, StatusClass(code), "code %d", code)
	}
}
