//go:build !integration

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"testing"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
	"github.com/OlegPowerC/powersnmpengine/walk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oidSysDescr    = codec.MustOID("1.3.6.1.2.1.1.1.0")
	oidSysUpTime   = codec.MustOID("1.3.6.1.2.1.1.3.0")
	oidSysLocation = codec.MustOID("1.3.6.1.2.1.1.6.0")
	oidIfDescr     = codec.MustOID("1.3.6.1.2.1.2.2.1.2")
	oidIfType      = codec.MustOID("1.3.6.1.2.1.2.2.1.3")
	oidLinkDown    = codec.MustOID("1.3.6.1.6.3.1.1.5.3")
)

var aliceUser = usm.UserConfig{
	Name:           "alice",
	AuthProtocol:   usm.AUTH_PROTOCOL_SHA256,
	AuthPassphrase: "alice-auth-secret",
	PrivProtocol:   usm.PRIV_PROTOCOL_AES128,
	PrivPassphrase: "alice-priv-secret",
}

const (
	agentPort   = 10161
	managerPort = 20162
	nowherePort = 30999
)

func memAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func child(oid ASNber.ObjectIdentifier, sub ...int) ASNber.ObjectIdentifier {
	return append(slices.Clone(oid), sub...)
}

func testMIB() *MemoryMIB {
	mib := NewMemoryMIB()
	mib.Set(oidSysDescr, codec.SetSNMPVar_OctetString("PowerSNMP test agent"))
	mib.SetReadOnly(oidSysUpTime, codec.SetSNMPVar_TimeTicks(4200))
	mib.Set(oidSysLocation, codec.SetSNMPVar_OctetString("rack 1"))
	for i := 1; i <= 3; i++ {
		mib.Set(child(oidIfDescr, i), codec.SetSNMPVar_OctetString(fmt.Sprintf("eth%d", i)))
		mib.Set(child(oidIfType, i), codec.SetSNMPVar_Int(6))
	}
	return mib
}

// newAgent starts a command responder and notification receiver with the
// public (read-only) and private (read-write) communities and user alice.
func newAgent(t *testing.T, n *memNet, cfg Config) (*Engine, *MemoryMIB) {
	t.Helper()
	agent, _ := newTestEngine(t, n, agentPort, cfg)
	mib := testMIB()
	agent.SetResponder(mib, nil)
	require.NoError(t, agent.AddCommunity(Community{Community: "public"}))
	require.NoError(t, agent.AddCommunity(Community{Name: "rw", Community: "private", Access: ACCESS_READWRITE}))
	require.NoError(t, agent.AddUser(aliceUser))
	startAgent(t, agent)
	return agent, mib
}

func v2cTarget(community string) Target {
	return Target{Address: memAddr(agentPort), Version: codec.SNMP_VERSION_2C, Community: community}
}

func v3Target() Target {
	return Target{Address: memAddr(agentPort), Version: codec.SNMP_VERSION_3, SecurityName: "alice", SecurityLevel: usm.SECLEVEL_AUTHPRIV}
}

func TestHandleGeneratorUnique(t *testing.T) {
	g := newHandleGenerator(0)
	seen := make(map[Handle]bool)
	for i := 0; i < 20000; i++ {
		h, err := g.Next()
		require.NoError(t, err)
		require.NotZero(t, h)
		require.Positive(t, int32(h))
		require.False(t, seen[h], "handle %d repeated", h)
		seen[h] = true
	}
}

func TestHandleGeneratorConcurrent(t *testing.T) {
	g := newHandleGenerator(0)
	const workers, perWorker = 8, 1000
	out := make(chan Handle, workers*perWorker)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			for i := 0; i < perWorker; i++ {
				h, err := g.Next()
				if err != nil {
					errs <- err
					return
				}
				out <- h
			}
			errs <- nil
		}()
	}
	for w := 0; w < workers; w++ {
		require.NoError(t, <-errs)
	}
	close(out)
	seen := make(map[Handle]bool)
	for h := range out {
		require.False(t, seen[h])
		seen[h] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

type fixedReader struct{ values []uint32 }

func (r *fixedReader) Read(p []byte) (int, error) {
	if len(r.values) == 0 {
		return 0, errors.New("exhausted")
	}
	v := r.values[0]
	r.values = r.values[1:]
	p[0], p[1], p[2], p[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	return 4, nil
}

func TestHandleGeneratorWindow(t *testing.T) {
	g := newHandleGenerator(2)
	g.rand = &fixedReader{values: []uint32{0, 1, 1, 2, 0x80000003, 1}}

	next := func() Handle {
		h, err := g.Next()
		require.NoError(t, err)
		return h
	}
	assert.Equal(t, Handle(1), next(), "zero is skipped")
	assert.Equal(t, Handle(2), next(), "1 is still in the window")
	assert.Equal(t, Handle(3), next(), "top bit is masked")
	assert.Equal(t, Handle(1), next(), "1 left the window")
}

func TestNewEngineDefaults(t *testing.T) {
	e, err := NewEngine(Config{DefaultRetries: -1, MaxMsgSize: 100})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, SNMP_DEFAULTMSGSIZE, e.cfg.MaxMsgSize)
	assert.Equal(t, SNMP_DEFAULTTIMEOUT, e.cfg.DefaultTimeout)
	assert.True(t, usm.ValidEngineID(e.EngineID()))

	tg := e.normalizeTarget(Target{Address: memAddr(1), Version: codec.SNMP_VERSION_3})
	assert.Equal(t, transport.DomainUDPv4, tg.Domain)
	assert.Equal(t, 0, tg.Retries)
	assert.Equal(t, usm.SECLEVEL_NOAUTH_NOPRIV, tg.SecurityLevel)

	tg = e.normalizeTarget(Target{Address: memAddr(1), Retries: 50})
	assert.Equal(t, SNMP_MAXIMUM_RETRY, tg.Retries)
}

func TestTargetsAndCommunities(t *testing.T) {
	e, err := NewEngine(Config{})
	require.NoError(t, err)
	defer e.Close()

	assert.ErrorIs(t, e.AddTarget("a", Target{Version: codec.SNMP_VERSION_2C}), ErrNoAddress)
	assert.ErrorIs(t, e.AddTarget("a", Target{Address: memAddr(1), Version: 7}), ErrUnsupportedVersion)
	require.NoError(t, e.AddTarget("core", v2cTarget("public")))
	got, err := e.Target("core")
	require.NoError(t, err)
	assert.Equal(t, "public", got.Community)
	_, err = e.Target("edge")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.True(t, e.RemoveTarget("core"))
	assert.Empty(t, e.Targets())

	assert.ErrorIs(t, e.AddCommunity(Community{}), ErrEmptyCommunity)
	require.NoError(t, e.AddCommunity(Community{Name: "b", Community: "private", Access: ACCESS_READWRITE}))
	require.NoError(t, e.AddCommunity(Community{Community: "public", Access: 42}))
	cs := e.Communities()
	require.Len(t, cs, 2)
	assert.Equal(t, "b", cs[0].Name)
	assert.Equal(t, Community{Name: "public", Community: "public", SecurityName: "public", Access: ACCESS_READONLY}, cs[1])
	assert.True(t, e.RemoveCommunity("b"))
	assert.False(t, e.RemoveCommunity("b"))
}

func TestRetryThenTimeout(t *testing.T) {
	n := newMemNet()
	mgr, tr := newTestEngine(t, n, managerPort, Config{})

	calls := 0
	var got Result
	tg := Target{Address: memAddr(nowherePort), Version: codec.SNMP_VERSION_2C, Community: "public", Timeout: 20 * time.Millisecond, Retries: 2}
	h, err := mgr.SendPdu(tg, codec.NewPDU(codec.PDU_GET, oidSysDescr), func(_ Handle, r Result) {
		calls++
		got = r
	})
	require.NoError(t, err)
	require.NotZero(t, h)
	assert.Equal(t, 1, mgr.Pending())

	require.NoError(t, mgr.Dispatcher().Run(testCtx(t), false))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, got.ErrorIndication, ErrRequestTimedOut)
	assert.EqualValues(t, 3, tr.sent.Load(), "first attempt plus two retries")
	assert.Zero(t, mgr.Pending())
}

func TestExchangeTimeout(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{DefaultRetries: -1})
	tg := Target{Address: memAddr(nowherePort), Version: codec.SNMP_VERSION_2C, Community: "public", Timeout: 20 * time.Millisecond}
	_, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	assert.ErrorIs(t, err, ErrRequestTimedOut)
}

func TestSendPduValidation(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	_, err := mgr.SendPdu(v2cTarget("public"), nil, nil)
	assert.ErrorIs(t, err, ErrNilPDU)
	_, err = mgr.SendPdu(Target{Version: codec.SNMP_VERSION_2C}, codec.NewPDU(codec.PDU_GET), nil)
	assert.ErrorIs(t, err, ErrNoAddress)
	v1 := v2cTarget("public")
	v1.Version = codec.SNMP_VERSION_1
	_, err = mgr.SendPdu(v1, codec.NewBulkPDU(0, 10, oidIfDescr), func(Handle, Result) {})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Zero(t, mgr.Pending())
	assert.False(t, mgr.Dispatcher().JobsArePending())
}

func TestCancel(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	tg := Target{Address: memAddr(nowherePort), Version: codec.SNMP_VERSION_2C, Community: "public"}
	h, err := mgr.SendPdu(tg, codec.NewPDU(codec.PDU_GET, oidSysDescr), func(Handle, Result) {
		t.Error("callback of a cancelled request called")
	})
	require.NoError(t, err)
	assert.True(t, mgr.Dispatcher().JobsArePending())
	assert.True(t, mgr.Cancel(h))
	assert.False(t, mgr.Cancel(h))
	assert.Zero(t, mgr.Pending())
	assert.False(t, mgr.Dispatcher().JobsArePending())
}

func TestRemoveTransportAbandonsRequests(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	tg := Target{Address: memAddr(nowherePort), Version: codec.SNMP_VERSION_2C, Community: "public"}
	_, err := mgr.SendPdu(tg, codec.NewPDU(codec.PDU_GET, oidSysDescr), func(Handle, Result) {
		t.Error("callback of an abandoned request called")
	})
	require.NoError(t, err)
	require.NoError(t, mgr.RemoveTransport(transport.DomainUDPv4))
	assert.Zero(t, mgr.Pending())
	assert.False(t, mgr.Dispatcher().JobsArePending())
	assert.ErrorIs(t, mgr.RemoveTransport(transport.DomainUDPv4), transport.ErrUnknownDomain)

	_, err = mgr.SendPdu(tg, codec.NewPDU(codec.PDU_GET, oidSysDescr), func(Handle, Result) {})
	assert.ErrorIs(t, err, transport.ErrUnknownDomain)
}

func TestCloseReleasesWaiters(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	startAgent(t, mgr)
	tg := Target{Address: memAddr(nowherePort), Version: codec.SNMP_VERSION_2C, Community: "public", Timeout: time.Minute}

	errc := make(chan error, 1)
	go func() {
		_, err := mgr.Get(context.Background(), tg, oidSysDescr)
		errc <- err
	}()
	require.Eventually(t, func() bool { return mgr.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, mgr.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrEngineClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not return after Close")
	}
	_, err := mgr.SendPdu(tg, codec.NewPDU(codec.PDU_GET, oidSysDescr), nil)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestContextCancelCancelsRequest(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	tg := Target{Address: memAddr(nowherePort), Version: codec.SNMP_VERSION_2C, Community: "public", Timeout: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := mgr.Get(ctx, tg, oidSysDescr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, mgr.Pending())
}

func TestCommunityGetFamily(t *testing.T) {
	n := newMemNet()
	agent, _ := newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	ctx := testCtx(t)
	tg := v2cTarget("public")

	vbs, err := mgr.Get(ctx, tg, oidSysDescr, oidSysUpTime)
	require.NoError(t, err)
	require.Len(t, vbs, 2)
	assert.Equal(t, "PowerSNMP test agent", codec.Convert_Variable_To_String(vbs[0].Value))
	assert.EqualValues(t, 4200, codec.Convert_snmpint_to_uint32(vbs[1].Value.Value))

	vbs, err = mgr.GetNext(ctx, tg, oidIfDescr)
	require.NoError(t, err)
	require.Len(t, vbs, 1)
	assert.Equal(t, child(oidIfDescr, 1), vbs[0].OID)

	vbs, err = mgr.GetBulk(ctx, tg, 1, 3, oidSysDescr, oidIfDescr)
	require.NoError(t, err)
	require.Len(t, vbs, 4)
	assert.Equal(t, oidSysUpTime, vbs[0].OID)
	assert.Equal(t, "eth3", codec.Convert_Variable_To_String(vbs[3].Value))

	stats := agent.Stats()
	assert.GreaterOrEqual(t, stats.InPkts, uint32(3))
	assert.GreaterOrEqual(t, stats.OutPkts, uint32(3))
	assert.Zero(t, stats.InBadCommunityNames)
}

func TestCommunityExceptions(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})

	missingObject := codec.MustOID("1.3.6.1.2.1.1.99.0")
	missingInstance := codec.MustOID("1.3.6.1.2.1.1.1.5")
	vbs, err := mgr.Get(testCtx(t), v2cTarget("public"), oidSysDescr, missingObject, missingInstance)
	require.Len(t, vbs, 3)
	var ne SNMPne_Errors
	require.ErrorAs(t, err, &ne)
	require.Len(t, ne.Failedoids, 2)
	assert.Equal(t, codec.TagERR_noSuchObject, ne.Failedoids[0].Exception)
	assert.Equal(t, codec.TagERR_noSuchInstance, ne.Failedoids[1].Exception)

	ud, common := ParseError(err)
	assert.NoError(t, common)
	assert.False(t, ud.IsFatal)
	assert.Len(t, ud.Oids, 2)
}

func TestCommunitySet(t *testing.T) {
	n := newMemNet()
	_, mib := newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	ctx := testCtx(t)
	newLocation := codec.VarBind{OID: oidSysLocation, Value: codec.SetSNMPVar_OctetString("rack 7")}

	_, err := mgr.Set(ctx, v2cTarget("public"), newLocation)
	var fe SNMPfe_Errors
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, codec.ErrStatus_NoAccess, fe.ErrorStatusRaw)
	assert.EqualValues(t, 1, fe.ErrorIndexRaw)

	_, err = mgr.Set(ctx, v2cTarget("private"), newLocation)
	require.NoError(t, err)
	vbs, err := mib.ReadVars(RequestInfo{}, []ASNber.ObjectIdentifier{oidSysLocation})
	require.NoError(t, err)
	assert.Equal(t, "rack 7", codec.Convert_Variable_To_String(vbs[0].Value))

	_, err = mgr.Set(ctx, v2cTarget("private"), codec.VarBind{OID: oidSysUpTime, Value: codec.SetSNMPVar_TimeTicks(1)})
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, codec.ErrStatus_NotWritable, fe.ErrorStatusRaw)
	assert.Equal(t, oidSysUpTime, fe.FailedOID)

	_, err = mgr.Set(ctx, v2cTarget("private"), codec.VarBind{OID: oidSysLocation, Value: codec.SetSNMPVar_Int(1)})
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, codec.ErrStatus_WrongType, fe.ErrorStatusRaw)
}

func TestCommunityV1Mapping(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	ctx := testCtx(t)
	tg := v2cTarget("private")
	tg.Version = codec.SNMP_VERSION_1

	_, err := mgr.Get(ctx, tg, oidSysDescr, codec.MustOID("1.3.6.1.2.1.1.99.0"))
	var fe SNMPfe_Errors
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, codec.ErrStatus_NoSuchName, fe.ErrorStatusRaw)
	assert.EqualValues(t, 2, fe.ErrorIndexRaw)

	// notWritable folds into noSuchName in v1
	_, err = mgr.Set(ctx, tg, codec.VarBind{OID: oidSysUpTime, Value: codec.SetSNMPVar_TimeTicks(1)})
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, codec.ErrStatus_NoSuchName, fe.ErrorStatusRaw)

	// wrongType folds into badValue
	_, err = mgr.Set(ctx, tg, codec.VarBind{OID: oidSysLocation, Value: codec.SetSNMPVar_Int(1)})
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, codec.ErrStatus_BadValue, fe.ErrorStatusRaw)
}

func TestBadCommunity(t *testing.T) {
	n := newMemNet()
	agent, _ := newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{DefaultRetries: -1})
	tg := v2cTarget("guess")
	tg.Timeout = 30 * time.Millisecond

	_, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	assert.ErrorIs(t, err, ErrRequestTimedOut)
	assert.EqualValues(t, 1, agent.Stats().InBadCommunityNames)
}

func TestUnknownPDUHandlerCommunity(t *testing.T) {
	n := newMemNet()
	agent, _ := newTestEngine(t, n, agentPort, Config{})
	require.NoError(t, agent.AddCommunity(Community{Community: "public"}))
	startAgent(t, agent)
	mgr, _ := newTestEngine(t, n, managerPort, Config{DefaultRetries: -1})
	tg := v2cTarget("public")
	tg.Timeout = 30 * time.Millisecond

	_, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	assert.ErrorIs(t, err, ErrRequestTimedOut)
	assert.EqualValues(t, 1, agent.Stats().UnknownPDUHandlers)
}

func TestGarbageCountsParseErrors(t *testing.T) {
	n := newMemNet()
	agent, _ := newTestEngine(t, n, agentPort, Config{})
	startAgent(t, agent)
	src := n.endpoint(nowherePort)
	require.NoError(t, src.Open(func(transport.Datagram) {}))

	require.NoError(t, src.SendTo([]byte{0x01, 0x02, 0x03}, memAddr(agentPort)))
	// SEQUENCE { INTEGER 7, NULL } carries an unsupported version
	require.NoError(t, src.SendTo([]byte{0x30, 0x05, 0x02, 0x01, 0x07, 0x05, 0x00}, memAddr(agentPort)))
	require.Eventually(t, func() bool {
		s := agent.Stats()
		return s.InPkts == 2 && s.InASNParseErrs == 1 && s.InBadVersions == 1
	}, time.Second, time.Millisecond)
}

func TestWalk(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	ctx := testCtx(t)
	head := []ASNber.ObjectIdentifier{oidIfDescr, oidIfType}

	for _, tc := range []struct {
		name    string
		version int
		opts    walk.Options
	}{
		{"v2c getnext", codec.SNMP_VERSION_2C, walk.Options{}},
		{"v2c bulk", codec.SNMP_VERSION_2C, walk.Options{Bulk: true, MaxRepetitions: 2}},
		{"v1 forces getnext", codec.SNMP_VERSION_1, walk.Options{Bulk: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tg := v2cTarget("public")
			tg.Version = tc.version
			rows, err := mgr.Walk(ctx, tg, head, tc.opts)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			for i, row := range rows {
				require.Len(t, row, 2)
				assert.Equal(t, fmt.Sprintf("eth%d", i+1), codec.Convert_Variable_To_String(row[0].Value))
				assert.Equal(t, child(oidIfType, i+1), row[1].OID)
			}
		})
	}
}

func TestWalkEndOfMib(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	ctx := testCtx(t)
	// the type column is the last subtree of the MIB
	for _, version := range []int{codec.SNMP_VERSION_1, codec.SNMP_VERSION_2C} {
		tg := v2cTarget("public")
		tg.Version = version
		rows, err := mgr.Walk(ctx, tg, []ASNber.ObjectIdentifier{oidIfType}, walk.Options{})
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	}
}

func TestWalkMaxRows(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	rows, err := mgr.Walk(testCtx(t), v2cTarget("public"), []ASNber.ObjectIdentifier{oidIfDescr}, walk.Options{MaxRows: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestV3DiscoveryAndRequests(t *testing.T) {
	n := newMemNet()
	agent, _ := newAgent(t, n, Config{Boots: 3})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(aliceUser))
	ctx := testCtx(t)
	tg := v3Target()

	_, known := mgr.DiscoveredEngineID(tg)
	assert.False(t, known)

	vbs, err := mgr.Get(ctx, tg, oidSysDescr)
	require.NoError(t, err)
	assert.Equal(t, "PowerSNMP test agent", codec.Convert_Variable_To_String(vbs[0].Value))

	id, known := mgr.DiscoveredEngineID(tg)
	require.True(t, known)
	assert.Equal(t, agent.EngineID(), id)
	assert.True(t, mgr.USM().KnownEngine(agent.EngineID()))
	assert.EqualValues(t, 1, agent.Stats().USM.UnknownEngineIDs)

	// the second request reuses the discovered engine ID
	rows, err := mgr.Walk(ctx, tg, []ASNber.ObjectIdentifier{oidIfDescr}, walk.Options{Bulk: true})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.EqualValues(t, 1, agent.Stats().USM.UnknownEngineIDs)

	_, err = mgr.Set(ctx, tg, codec.VarBind{OID: oidSysLocation, Value: codec.SetSNMPVar_OctetString("lab")})
	require.NoError(t, err)
}

func TestV3StaleEngineIDReported(t *testing.T) {
	n := newMemNet()
	agent, _ := newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(aliceUser))
	tg := v3Target()
	tg.EngineID = []byte{0x80, 0x00, 0x1f, 0x88, 0x04, 's', 't', 'a', 'l', 'e'}

	_, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	assert.ErrorIs(t, err, ErrReportReceived)
	assert.ErrorIs(t, err, usm.ErrUnknownEngineID)
	assert.EqualValues(t, 1, agent.Stats().USM.UnknownEngineIDs)
	assert.Zero(t, agent.Stats().Timeline)
	assert.Len(t, agent.Users(), 1)
}

func TestV3RediscoveryAfterAgentRestart(t *testing.T) {
	n := newMemNet()
	first, _ := newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(aliceUser))
	tg := v3Target()

	_, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// same address, new engine ID
	second, _ := newAgent(t, n, Config{})
	require.NotEqual(t, first.EngineID(), second.EngineID())
	vbs, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	require.NoError(t, err)
	assert.Equal(t, "PowerSNMP test agent", codec.Convert_Variable_To_String(vbs[0].Value))

	id, known := mgr.DiscoveredEngineID(tg)
	require.True(t, known)
	assert.Equal(t, second.EngineID(), id)
	// the stale request and the new probe
	assert.EqualValues(t, 2, second.Stats().USM.UnknownEngineIDs)
	assert.Zero(t, second.Stats().Timeline)
	assert.Len(t, second.Users(), 1)
}

func TestV3AllLevels(t *testing.T) {
	n := newMemNet()
	agent, _ := newAgent(t, n, Config{})
	require.NoError(t, agent.AddUser(usm.UserConfig{Name: "guest"}))
	require.NoError(t, agent.AddUser(usm.UserConfig{Name: "auditor", AuthProtocol: usm.AUTH_PROTOCOL_MD5, AuthPassphrase: "auditor-secret"}))
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(usm.UserConfig{Name: "guest"}))
	require.NoError(t, mgr.AddUser(usm.UserConfig{Name: "auditor", AuthProtocol: usm.AUTH_PROTOCOL_MD5, AuthPassphrase: "auditor-secret"}))

	for _, tc := range []struct {
		user  string
		level int
	}{
		{"guest", usm.SECLEVEL_NOAUTH_NOPRIV},
		{"auditor", usm.SECLEVEL_AUTHNOPRIV},
	} {
		tg := Target{Address: memAddr(agentPort), Version: codec.SNMP_VERSION_3, SecurityName: tc.user, SecurityLevel: tc.level}
		vbs, err := mgr.Get(testCtx(t), tg, oidSysUpTime)
		require.NoError(t, err, tc.user)
		assert.EqualValues(t, 4200, codec.Convert_snmpint_to_uint32(vbs[0].Value.Value))
	}
}

func TestV3UnknownUserReport(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(usm.UserConfig{Name: "bob", AuthProtocol: usm.AUTH_PROTOCOL_SHA, AuthPassphrase: "bob-secret-1"}))
	tg := Target{Address: memAddr(agentPort), Version: codec.SNMP_VERSION_3, SecurityName: "bob", SecurityLevel: usm.SECLEVEL_AUTHNOPRIV}

	_, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	assert.ErrorIs(t, err, ErrReportReceived)
	assert.ErrorIs(t, err, usm.ErrUnknownSecurityName)
}

func TestV3WrongPassphraseReport(t *testing.T) {
	n := newMemNet()
	newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	wrong := aliceUser
	wrong.AuthPassphrase = "not-the-secret"
	require.NoError(t, mgr.AddUser(wrong))

	_, err := mgr.Get(testCtx(t), v3Target(), oidSysDescr)
	assert.ErrorIs(t, err, usm.ErrAuthenticationFailure)
}

func TestV3TimeWindowResync(t *testing.T) {
	n := newMemNet()
	agent, _ := newAgent(t, n, Config{Boots: 5})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(aliceUser))
	tg := v3Target()
	// a configured engine ID skips discovery, so the first message carries
	// boots 0 and is outside the window
	tg.EngineID = agent.EngineID()

	vbs, err := mgr.Get(testCtx(t), tg, oidSysDescr)
	require.NoError(t, err)
	assert.Len(t, vbs, 1)
	assert.EqualValues(t, 1, agent.Stats().USM.NotInTimeWindows)
	_, discovered := mgr.DiscoveredEngineID(tg)
	assert.False(t, discovered)
}

func TestV3UnknownPDUHandlerReport(t *testing.T) {
	n := newMemNet()
	agent, _ := newTestEngine(t, n, agentPort, Config{})
	require.NoError(t, agent.AddUser(aliceUser))
	startAgent(t, agent)
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, mgr.AddUser(aliceUser))

	_, err := mgr.Get(testCtx(t), v3Target(), oidSysDescr)
	assert.ErrorIs(t, err, ErrUnknownPDUHandler)
	assert.EqualValues(t, 1, agent.Stats().UnknownPDUHandlers)
}

func TestV3ResponseFromWrongUserIgnored(t *testing.T) {
	n := newMemNet()
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	r := &pendingRequest{
		target:           v3Target(),
		securityEngineID: []byte{0x80, 0, 0, 0, 1},
		securityName:     "alice",
		securityLevel:    usm.SECLEVEL_AUTHPRIV,
		cb:               func(Handle, Result) { t.Error("response from another user accepted") },
		handle:           77,
		origin:           77,
	}
	mgr.pending[77] = r
	mgr.correlate(77, &codec.PDU{Type: codec.PDU_RESPONSE}, func(p *pendingRequest) bool {
		return p.securityName == "mallory"
	})
	assert.Equal(t, 1, mgr.Pending())
}

func TestNotifications(t *testing.T) {
	n := newMemNet()
	receiver, _ := newAgent(t, n, Config{})
	got := make(chan Notification, 8)
	receiver.AddNotificationHandler(func(nt Notification) { got <- nt })

	sender, _ := newTestEngine(t, n, managerPort, Config{})
	require.NoError(t, sender.AddUser(aliceUser))
	startAgent(t, sender)
	ifIndex := codec.VarBind{OID: codec.MustOID("1.3.6.1.2.1.2.2.1.1.2"), Value: codec.SetSNMPVar_Int(2)}

	next := func() Notification {
		select {
		case nt := <-got:
			return nt
		case <-time.After(2 * time.Second):
			t.Fatal("notification not received")
		}
		return Notification{}
	}

	t.Run("v2c trap", func(t *testing.T) {
		_, err := sender.SendNotification(v2cTarget("public"), false, oidLinkDown, []codec.VarBind{ifIndex}, nil)
		require.NoError(t, err)
		nt := next()
		assert.Equal(t, TRAP_MESSAGE, nt.Kind)
		assert.Equal(t, "public", nt.Community)
		assert.Equal(t, oidLinkDown, NotificationOID(nt.PDU))
		require.Len(t, nt.PDU.VarBinds, 3)
		assert.Equal(t, OID_sysUpTime, nt.PDU.VarBinds[0].OID)
	})

	t.Run("v1 trap", func(t *testing.T) {
		tg := v2cTarget("public")
		tg.Version = codec.SNMP_VERSION_1
		_, err := sender.SendNotification(tg, false, oidLinkDown, []codec.VarBind{ifIndex}, nil)
		require.NoError(t, err)
		nt := next()
		assert.Equal(t, codec.PDU_TRAPV1, nt.PDU.Type)
		require.NotNil(t, nt.PDU.Trap)
		assert.Equal(t, 2, nt.PDU.Trap.GenericTrap)
		assert.Equal(t, oidLinkDown, NotificationOID(nt.PDU))
	})

	t.Run("v2c inform", func(t *testing.T) {
		acked := make(chan Result, 1)
		_, err := sender.SendNotification(v2cTarget("public"), true, oidLinkDown, []codec.VarBind{ifIndex}, func(_ Handle, r Result) { acked <- r })
		require.NoError(t, err)
		nt := next()
		assert.Equal(t, INFORM_MESSAGE, nt.Kind)
		select {
		case r := <-acked:
			require.NoError(t, r.ErrorIndication)
			assert.Len(t, r.VarBinds, 3)
		case <-time.After(2 * time.Second):
			t.Fatal("inform not acknowledged")
		}
	})

	t.Run("v3 trap", func(t *testing.T) {
		_, err := sender.SendNotification(v3Target(), false, oidLinkDown, []codec.VarBind{ifIndex}, nil)
		require.NoError(t, err)
		nt := next()
		assert.Equal(t, "alice", nt.SecurityName)
		assert.Equal(t, usm.SECLEVEL_AUTHPRIV, nt.SecurityLevel)
		assert.Equal(t, sender.EngineID(), nt.SecurityEngineID)
	})

	t.Run("v3 inform", func(t *testing.T) {
		acked := make(chan Result, 1)
		_, err := sender.SendNotification(v3Target(), true, oidLinkDown, nil, func(_ Handle, r Result) { acked <- r })
		require.NoError(t, err)
		nt := next()
		assert.Equal(t, INFORM_MESSAGE, nt.Kind)
		assert.Equal(t, receiver.EngineID(), nt.SecurityEngineID)
		select {
		case r := <-acked:
			require.NoError(t, r.ErrorIndication)
		case <-time.After(2 * time.Second):
			t.Fatal("inform not acknowledged")
		}
	})
}

type denyView struct{ view ViewType }

func (d denyView) IsAccessAllowed(_ int, _ string, _ int, view ViewType, _ string, _ ASNber.ObjectIdentifier) bool {
	return view != d.view
}

func TestNotifyViewDropsNotification(t *testing.T) {
	n := newMemNet()
	receiver, _ := newTestEngine(t, n, agentPort, Config{})
	require.NoError(t, receiver.AddCommunity(Community{Community: "public"}))
	receiver.SetResponder(testMIB(), denyView{view: ViewNotify})
	got := make(chan Notification, 1)
	receiver.AddNotificationHandler(func(nt Notification) { got <- nt })
	startAgent(t, receiver)

	sender, _ := newTestEngine(t, n, managerPort, Config{DefaultRetries: -1})
	tg := v2cTarget("public")
	tg.Timeout = 50 * time.Millisecond
	pdu, err := NewNotificationPDU(codec.PDU_INFORM, 1, oidLinkDown)
	require.NoError(t, err)
	_, err = sender.Exchange(testCtx(t), tg, pdu)
	assert.ErrorIs(t, err, ErrRequestTimedOut)
	assert.Empty(t, got)
}

func TestReadViewHidesObjects(t *testing.T) {
	n := newMemNet()
	agent, _ := newTestEngine(t, n, agentPort, Config{})
	require.NoError(t, agent.AddCommunity(Community{Community: "public"}))
	agent.SetResponder(testMIB(), denyView{view: ViewRead})
	startAgent(t, agent)
	mgr, _ := newTestEngine(t, n, managerPort, Config{})

	vbs, err := mgr.Get(testCtx(t), v2cTarget("public"), oidSysDescr)
	var ne SNMPne_Errors
	require.ErrorAs(t, err, &ne)
	assert.True(t, codec.IsException(vbs[0].Value))
	assert.Equal(t, codec.TagERR_noSuchObject, vbs[0].Value.ValueType)

	vbs, err = mgr.GetNext(testCtx(t), v2cTarget("public"), oidSysDescr)
	require.Error(t, err)
	assert.True(t, codec.IsEndOfMibView(vbs[0].Value))
}

func TestPublishStats(t *testing.T) {
	n := newMemNet()
	agent, mib := newAgent(t, n, Config{})
	mgr, _ := newTestEngine(t, n, managerPort, Config{})
	before := mib.Len()
	agent.PublishStats(mib)
	assert.Equal(t, before+13, mib.Len())

	vbs, err := mgr.Get(testCtx(t), v2cTarget("public"), OID_snmpInPkts)
	require.NoError(t, err)
	assert.Equal(t, "0", codec.Convert_Variable_To_String(vbs[0].Value))
}
