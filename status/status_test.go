//go:build !integration

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package status

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager *PowerSNMP.Engine
	agent   *PowerSNMP.Engine
	server  *Server
	levels  *logging.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	agent, err := PowerSNMP.NewEngine(PowerSNMP.Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Close() })
	server := transport.NewUDPServer("udp4", "127.0.0.1:0", false, nil)
	require.NoError(t, agent.AddTransport(server))
	require.NoError(t, agent.AddCommunity(PowerSNMP.Community{Community: "public"}))
	mib := PowerSNMP.NewMemoryMIB()
	mib.SetReadOnly(codec.MustOID("1.3.6.1.2.1.1.1.0"), codec.SetSNMPVar_OctetString("status test agent"))
	for i := 1; i <= 3; i++ {
		mib.Set(codec.MustOID("1.3.6.1.2.1.2.2.1.2."+strconv.Itoa(i)), codec.SetSNMPVar_OctetString("eth"+strconv.Itoa(i)))
	}
	agent.SetResponder(mib, nil)
	agent.Start(ctx)

	manager, err := PowerSNMP.NewEngine(PowerSNMP.Config{PollInterval: 10 * time.Millisecond, DefaultTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	require.NoError(t, manager.AddTransport(transport.NewUDPClient("udp4", nil)))
	require.NoError(t, manager.AddTarget("agent", PowerSNMP.Target{
		Address:   server.LocalAddr(),
		Version:   codec.SNMP_VERSION_2C,
		Community: "public",
	}))
	require.NoError(t, manager.AddTarget("v3", PowerSNMP.Target{
		Address:       server.LocalAddr(),
		Version:       codec.SNMP_VERSION_3,
		SecurityName:  "monitor",
		SecurityLevel: usm.SECLEVEL_AUTHNOPRIV,
	}))
	require.NoError(t, manager.AddCommunity(PowerSNMP.Community{Name: "ops", Community: "secret"}))
	require.NoError(t, manager.AddUser(usm.UserConfig{Name: "monitor", AuthProtocol: usm.AUTH_PROTOCOL_SHA, AuthPassphrase: "authpass123"}))
	manager.Start(ctx)

	levels := logging.NewWriter(io.Discard, logging.DefaultConfig())
	return &fixture{
		manager: manager,
		agent:   agent,
		server:  New(manager, Options{Levels: levels, RequestTimeout: 2 * time.Second}),
		levels:  levels,
	}
}

// do runs one request against the router and decodes the reply; data, when
// non-nil, receives the Data field.
func (f *fixture) do(t *testing.T, method, path, body string, data any) (int, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	var raw struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	if rec.Code == http.StatusOK && path == "/health" {
		return rec.Code, APIResponse{Success: true, Message: rec.Body.String()}
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return rec.Code, raw.APIResponse
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", resp.Message)
}

func TestEngineAndStats(t *testing.T) {
	f := newFixture(t)

	var info EngineInfo
	code, _ := f.do(t, "GET", "/api/v1/engine", "", &info)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, info.EngineID)
	assert.Equal(t, []string{transport.DomainUDPv4}, info.Domains)

	_, err := f.manager.Get(context.Background(), mustTarget(t, f.manager, "agent"), codec.MustOID("1.3.6.1.2.1.1.1.0"))
	require.NoError(t, err)

	var stats PowerSNMP.StatsSnapshot
	code, _ = f.do(t, "GET", "/api/v1/stats", "", &stats)
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, stats.InPkts, uint32(1))
	assert.GreaterOrEqual(t, stats.OutPkts, uint32(1))
}

func mustTarget(t *testing.T, e *PowerSNMP.Engine, name string) PowerSNMP.Target {
	t.Helper()
	target, err := e.Target(name)
	require.NoError(t, err)
	return target
}

func TestTables(t *testing.T) {
	f := newFixture(t)

	var users []usm.UserInfo
	code, _ := f.do(t, "GET", "/api/v1/users", "", &users)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, users, 1)
	assert.Equal(t, "monitor", users[0].Name)

	var communities []map[string]any
	f.do(t, "GET", "/api/v1/communities", "", &communities)
	require.Len(t, communities, 1)
	assert.Equal(t, "ops", communities[0]["name"])
	assert.NotContains(t, communities[0], "community", "community strings are not exposed")

	var targets []TargetInfo
	f.do(t, "GET", "/api/v1/targets", "", &targets)
	require.Len(t, targets, 2)
	assert.Equal(t, "agent", targets[0].Name)
	assert.Equal(t, "2c", targets[0].Version)
	assert.Equal(t, "v3", targets[1].Name)
	assert.Equal(t, "monitor", targets[1].SecurityName)

	code, _ = f.do(t, "DELETE", "/api/v1/targets/v3", "", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, "DELETE", "/api/v1/targets/v3", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Len(t, f.manager.Targets(), 1)

	code, _ = f.do(t, "DELETE", "/api/v1/communities/ops", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.manager.Communities())

	code, _ = f.do(t, "DELETE", "/api/v1/users/monitor?engineID=zz", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, "DELETE", "/api/v1/users/monitor", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.manager.Users())
}

func TestGetAndWalk(t *testing.T) {
	f := newFixture(t)

	var vbs []VarBindInfo
	code, resp := f.do(t, "GET", "/api/v1/targets/agent/get?oid=1.3.6.1.2.1.1.1.0&oid=1.3.6.1.2.1.1.5.0", "", &vbs)
	require.Equal(t, http.StatusOK, code, resp.Message)
	require.Len(t, vbs, 2)
	assert.Equal(t, "1.3.6.1.2.1.1.1.0", vbs[0].OID)
	assert.Equal(t, "status test agent", vbs[0].Value)

	for _, bulk := range []string{"false", "true"} {
		var rows [][]VarBindInfo
		code, resp = f.do(t, "GET", "/api/v1/targets/agent/walk?oid=1.3.6.1.2.1.2.2.1.2&bulk="+bulk, "", &rows)
		require.Equal(t, http.StatusOK, code, resp.Message)
		require.Len(t, rows, 3, "bulk=%s", bulk)
		assert.Equal(t, "1.3.6.1.2.1.2.2.1.2.3", rows[2][0].OID)
		assert.Equal(t, "eth3", rows[2][0].Value)
	}

	var rows [][]VarBindInfo
	code, _ = f.do(t, "GET", "/api/v1/targets/agent/walk?oid=1.3.6.1.2.1.2.2.1.2&maxRows=2", "", &rows)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, rows, 2)
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/api/v1/targets/nope/get?oid=1.3.6.1", http.StatusNotFound},
		{"/api/v1/targets/agent/get", http.StatusBadRequest},
		{"/api/v1/targets/agent/get?oid=not.an.oid", http.StatusBadRequest},
		{"/api/v1/targets/agent/walk?oid=1.3.6.1&maxRows=-1", http.StatusBadRequest},
	} {
		code, resp := f.do(t, "GET", tc.path, "", nil)
		assert.Equal(t, tc.code, code, tc.path)
		assert.False(t, resp.Success)
	}

	// nothing listens on the discard port
	require.NoError(t, f.manager.AddTarget("silent", PowerSNMP.Target{
		Address:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9},
		Version:   codec.SNMP_VERSION_2C,
		Community: "public",
		Timeout:   50 * time.Millisecond,
		Retries:   -1,
	}))
	code, _ := f.do(t, "GET", "/api/v1/targets/silent/get?oid=1.3.6.1.2.1.1.1.0", "", nil)
	assert.Equal(t, http.StatusGatewayTimeout, code)
}

func TestLogLevel(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "PUT", "/api/v1/log/level", `{"level":"debug"}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DEBUG", f.levels.Level().String())

	code, _ = f.do(t, "PUT", "/api/v1/log/level", `{"level":"verbose"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, "PUT", "/api/v1/log/level", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	fixed := New(f.manager, Options{})
	rec := httptest.NewRecorder()
	fixed.Handler().ServeHTTP(rec, httptest.NewRequest("PUT", "/api/v1/log/level", strings.NewReader(`{"level":"info"}`)))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServe(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
