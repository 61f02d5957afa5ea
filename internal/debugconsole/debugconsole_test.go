package debugconsole

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betlabs/kwai-pipeline/internal/dispatch"
)

func TestRecorderEvictsOldest(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Dispatched(dispatch.Outcome{DispatchID: fmt.Sprintf("d%d", i)})
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "d4", snap[0].DispatchID, "newest first")
	assert.Equal(t, "d3", snap[1].DispatchID)
	assert.Equal(t, "d2", snap[2].DispatchID)
}

func TestRecorderEmpty(t *testing.T) {
	r := NewRecorder(0)
	assert.Empty(t, r.Snapshot())
}

func TestHandlerServesSnapshot(t *testing.T) {
	r := NewRecorder(10)
	r.Dispatched(dispatch.Outcome{DispatchID: "d1", EventName: "EVENT_PURCHASE", Succeeded: true})

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/debug/dispatches", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count      int                `json:"count"`
		Dispatches []dispatch.Outcome `json:"dispatches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Dispatches, 1)
	assert.Equal(t, "EVENT_PURCHASE", body.Dispatches[0].EventName)
}
