package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatementLabel(t *testing.T) {
	cases := map[string]string{
		"select * from tasks":          "SELECT",
		"\n\t  UPDATE tasks SET x = 1": "UPDATE",
		"WITH(x) as ...":               "WITH",
		"":                             "unknown",
		"   ":                          "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, statementLabel(in), in)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(DuplicateGroupCount.WithLabelValues("found"))
	AddDuplicateGroups("found", 3)
	AddDuplicateGroups("found", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(DuplicateGroupCount.WithLabelValues("found")))

	before = testutil.ToFloat64(DBSlowQueryCount.WithLabelValues("DELETE"))
	IncrementSlowQuery("delete from x", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(DBSlowQueryCount.WithLabelValues("DELETE")))
}
