package uds

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskflow/internal/logging"
)

// Socket paths are capped near 104 bytes on macOS, so tests use /tmp.
func sockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "tf-uds-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, SocketName)
}

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	path := sockPath(t)
	srv := NewServer(path, logging.Nop())
	srv.Handle(CmdPing, func(*Request) *Response { return SuccessResponse(map[string]string{"pong": "ok"}) })
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	c := NewClient(path)
	c.SetTimeout(2 * time.Second)
	return srv, c
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req, err := NewRequest(CmdTrigger, TriggerParams{Binding: "less"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, req))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, CmdTrigger, got.Command)
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)

	var p TriggerParams
	require.NoError(t, got.DecodeParams(&p))
	assert.Equal(t, "less", p.Binding)
}

func TestFrame_RejectsOversizedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	var v any
	err := ReadFrame(buf, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestServer_Ping(t *testing.T) {
	_, c := startServer(t)

	var out map[string]string
	require.NoError(t, c.Call(CmdPing, nil, &out))
	assert.Equal(t, "ok", out["pong"])
}

func TestServer_UnknownCommand(t *testing.T) {
	_, c := startServer(t)

	err := c.Call("reload", nil, nil)
	var detail *ErrorDetail
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, ErrCodeUnknownCommand, detail.Code)
}

func TestServer_ProtocolMismatch(t *testing.T) {
	_, c := startServer(t)

	resp, err := c.Send(&Request{ProtocolVersion: 99, Command: CmdPing})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeProtocolMismatch, resp.Error.Code)
}

func TestServer_HandlerParams(t *testing.T) {
	srv, c := startServer(t)
	srv.Handle(CmdTrigger, func(req *Request) *Response {
		var p TriggerParams
		if err := req.DecodeParams(&p); err != nil || p.Binding == "" {
			return ErrorResponse(ErrCodeValidation, "binding required")
		}
		return SuccessResponse(p)
	})

	var echoed TriggerParams
	require.NoError(t, c.Call(CmdTrigger, TriggerParams{Binding: "js"}, &echoed))
	assert.Equal(t, "js", echoed.Binding)

	err := c.Call(CmdTrigger, TriggerParams{}, nil)
	var detail *ErrorDetail
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, ErrCodeValidation, detail.Code)
}

func TestServer_ConcurrentClients(t *testing.T) {
	_, c := startServer(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Call(CmdPing, nil, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestServer_PanicKeepsServing(t *testing.T) {
	srv, c := startServer(t)
	srv.Handle("boom", func(*Request) *Response { panic("handler") })

	assert.Error(t, c.Call("boom", nil, nil))
	assert.NoError(t, c.Call(CmdPing, nil, nil))
}

func TestServer_StopRemovesSocket(t *testing.T) {
	path := sockPath(t)
	srv := NewServer(path, logging.Nop())
	require.NoError(t, srv.Start())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	srv.Stop()
	srv.Stop()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClient_NotRunning(t *testing.T) {
	c := NewClient(sockPath(t))
	c.SetTimeout(200 * time.Millisecond)
	err := c.Call(CmdPing, nil, nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStatusData_JSON(t *testing.T) {
	resp := SuccessResponse(StatusData{PID: 7, Bindings: []BindingStatus{{Name: "less", Runs: 2}}})
	require.True(t, resp.Success)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &raw))
	assert.EqualValues(t, 7, raw["pid"])

	var st StatusData
	require.NoError(t, resp.DecodeData(&st))
	assert.Equal(t, "less", st.Bindings[0].Name)
	assert.Equal(t, 2, st.Bindings[0].Runs)
}
