package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsmryan/ccsds-router/cfg"
	"github.com/nsmryan/ccsds-router/route"
)

func newControlServer(t *testing.T) (controlServer, *route.Processor) {
	t.Helper()
	processor := route.NewProcessor()
	go processor.Run()
	t.Cleanup(func() {
		processor.Commands() <- route.Command{Kind: route.CmdTerminate}
		deadline := time.After(5 * time.Second)
		for {
			select {
			case event := <-processor.Events():
				if _, ok := event.(route.Terminated); ok {
					return
				}
			case <-deadline:
				t.Fatal("processor did not terminate")
			}
		}
	})
	return controlServer{processor: processor, stats: route.NewStats()}, processor
}

func TestStartRejectsNonJSON(t *testing.T) {
	server, _ := newControlServer(t)

	request := httptest.NewRequest("POST", "/v1/control/start", bytes.NewBufferString("not json"))
	request.Header.Set("Content-Type", "text/plain")

	response := server.start(request)
	assert.Equal(t, http.StatusUnsupportedMediaType, response.StatusCode)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	server, _ := newControlServer(t)

	config := cfg.Default()
	config.MaxLengthBytes = -1
	body, err := json.Marshal(config)
	require.NoError(t, err)

	request := httptest.NewRequest("POST", "/v1/control/start", bytes.NewBuffer(body))
	request.Header.Set("Content-Type", "application/json")

	response := server.start(request)
	assert.Equal(t, http.StatusUnprocessableEntity, response.StatusCode)
}

func TestCommandEndpointsForward(t *testing.T) {
	server, processor := newControlServer(t)

	handler := server.command(route.CmdPause)
	response := handler(httptest.NewRequest("POST", "/v1/control/pause", nil))
	assert.Equal(t, http.StatusAccepted, response.StatusCode)

	// The processor is Idle, so the forwarded Pause is reported as
	// unexpected; what matters here is that it arrived.
	select {
	case event := <-processor.Events():
		_, ok := event.(route.ErrorEvent)
		assert.True(t, ok, "got %v", event)
	case <-time.After(2 * time.Second):
		t.Fatal("command was not forwarded")
	}
}

func TestStatusReportsStateAndStats(t *testing.T) {
	server, _ := newControlServer(t)

	server.stats.Update(route.PacketUpdate{APID: 3, PacketLength: 11, SeqCount: 0, RecvTime: time.Now()})

	response := server.status(httptest.NewRequest("GET", "/v1/status", nil))
	require.Equal(t, http.StatusOK, response.StatusCode)

	var body struct {
		State string              `json:"state"`
		Stats route.StatsSnapshot `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(response.Body, &body))
	assert.Equal(t, "Idle", body.State)
	require.Contains(t, body.Stats.History, uint16(3))
	assert.Equal(t, uint64(1), body.Stats.History[3].PacketCount)
}
