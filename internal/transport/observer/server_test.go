package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

func startServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	require.NoError(t, err)
	spec := layout.Default()
	f, err := layout.Build(spec, cats, tuning.Defaults())
	require.NoError(t, err)

	e := engine.New(f, engine.Config{TickRateHz: 1000, RunID: "obs"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	srv := NewServer(e, Config{
		Layout:          observerproto.LayoutInfo{Name: spec.Name, Digest: spec.Digest()},
		CatalogsDigest:  cats.Digest(),
		MaterialPalette: cats.Materials.Palette,
	}, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return ts, e
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestBootstrap(t *testing.T) {
	ts, _ := startServer(t)

	var boot observerproto.BootstrapResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/bootstrap", &boot))
	require.Equal(t, observerproto.Version, boot.ProtocolVersion)
	require.Equal(t, "obs", boot.RunID)
	require.Equal(t, "default", boot.Layout.Name)
	require.Equal(t, 1000, boot.Params.TickRateHz)
	require.Len(t, boot.Index, 7)
	require.Contains(t, boot.MaterialPalette, "product")
}

func TestStationAt(t *testing.T) {
	ts, _ := startServer(t)

	var hit observerproto.StationAtResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/stations/at?x=10&y=4", &hit))
	require.True(t, hit.Found)
	require.NotNil(t, hit.Station)
	require.Equal(t, "assembler", hit.Station.ID)

	var miss observerproto.StationAtResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/stations/at?x=99&y=99", &miss))
	require.False(t, miss.Found)

	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/stations/at?x=a", nil))
}

func TestToggleAndDrain(t *testing.T) {
	ts, _ := startServer(t)

	var ack observerproto.AckMsg
	require.Equal(t, http.StatusOK, post(t, ts.URL+"/v1/stations/packager/toggle", &ack))
	require.False(t, ack.Active)
	require.Equal(t, http.StatusOK, post(t, ts.URL+"/v1/stations/packager/toggle", &ack))
	require.True(t, ack.Active)

	require.Equal(t, http.StatusNotFound, post(t, ts.URL+"/v1/stations/nope/toggle", nil))

	var dr observerproto.DrainResponse
	require.Equal(t, http.StatusOK, post(t, ts.URL+"/v1/stations/output/drain", &dr))
	require.Equal(t, "output", dr.StationID)
	require.Zero(t, dr.Drained)

	require.Equal(t, http.StatusConflict, post(t, ts.URL+"/v1/stations/packager/drain", nil))
	require.Equal(t, http.StatusMethodNotAllowed, getJSON(t, ts.URL+"/v1/stations/output/drain", nil))
}

func TestObserverWS(t *testing.T) {
	ts, _ := startServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/observer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, EveryTicks: 2}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var tick observerproto.TickMsg
	require.NoError(t, conn.ReadJSON(&tick))
	require.Equal(t, "TICK", tick.Type)
	require.Equal(t, "obs", tick.RunID)
	require.Zero(t, tick.Tick%2)
	require.Len(t, tick.Stations, 7)
	require.Len(t, tick.Conveyors, 6)

	require.NoError(t, conn.WriteJSON(observerproto.ToggleMsg{Type: "TOGGLE", ProtocolVersion: observerproto.Version, StationID: "iron_extractor"}))
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(b, &head))
		if head.Type != "ACK" {
			continue
		}
		var ack observerproto.AckMsg
		require.NoError(t, json.Unmarshal(b, &ack))
		require.Equal(t, "iron_extractor", ack.StationID)
		require.False(t, ack.Active)
		require.Empty(t, ack.Error)
		break
	}
}

func TestObserverWS_RejectsBadHandshake(t *testing.T) {
	ts, _ := startServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/observer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "HELLO"}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, websocket.ClosePolicyViolation, ce.Code)
}

func TestIsLoopbackRemote(t *testing.T) {
	require.True(t, isLoopbackRemote("127.0.0.1:5555"))
	require.True(t, isLoopbackRemote("[::1]:80"))
	require.False(t, isLoopbackRemote("10.0.0.2:80"))
	require.False(t, isLoopbackRemote("garbage"))
}
