package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(friendRequests.WithLabelValues("sent"))
	RecordFriendRequest("sent")
	assert.Equal(t, before+1, testutil.ToFloat64(friendRequests.WithLabelValues("sent")))

	before = testutil.ToFloat64(danglingReferences.WithLabelValues("users"))
	RecordDangling("users")
	assert.Equal(t, before+1, testutil.ToFloat64(danglingReferences.WithLabelValues("users")))

	before = testutil.ToFloat64(storeOperations.WithLabelValues("benders", "get", "ok"))
	RecordStoreOp("benders", "get", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(storeOperations.WithLabelValues("benders", "get", "ok")))
}

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(InstrumentHandler)
	r.HandleFunc("/benders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := httpRequests.WithLabelValues(http.MethodGet, "/benders/{id}", "404")
	before := testutil.ToFloat64(counter)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/benders/abc", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordFriendRequest("accepted")
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `benders_friend_requests_total{outcome="accepted"}`)
}
