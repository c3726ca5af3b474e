//go:build !integration

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

const testConfig = `
engine:
  engineID: "80001f8880e9bd0c1d12667a5100000000"
  defaultRetries: 2
logging:
  level: debug
transports:
  - domain: udp4
    address: "127.0.0.1:0"
users:
  - name: monitor
    authProtocol: sha256
    authPassphrase: "${PSNMP_TEST_AUTH_PASS:-authpass123}"
    privProtocol: aes
    privPassphrase: privpass123
communities:
  - community: public
  - name: admin
    community: private
    access: rw
targets:
  - name: core
    address: 192.0.2.1
    version: "3"
    securityName: monitor
    securityLevel: authPriv
  - name: edge
    address: "192.0.2.2:1161"
    version: 1
    community: secret
    timeout: 3s
responder:
  enabled: true
  objects:
    - oid: 1.3.6.1.2.1.1.1.0
      value: PowerSNMP agent
      readOnly: true
    - oid: 1.3.6.1.2.1.1.7.0
      type: integer
      value: 72
`

// writeFile creates name in a fresh temporary directory.
func writeFile(name, content string) string {
	path := filepath.Join(GinkgoT().TempDir(), name)
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	It("applies schema defaults and the file's values", func() {
		cfg, err := Load(writeFile("engine.yaml", testConfig))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Engine.DefaultRetries).To(Equal(2))
		Expect(cfg.Engine.PollInterval).To(Equal("1s"))
		Expect(cfg.Engine.MaxMsgSize).To(Equal(65507))
		Expect(cfg.Logging.Level).To(Equal("debug"))
		Expect(cfg.Logging.Format).To(Equal("logfmt"))
		Expect(cfg.Users).To(HaveLen(1))
		Expect(cfg.Users[0].AuthPassphrase).To(Equal("authpass123"))
		Expect(cfg.Communities[0].Access).To(Equal("ro"))
		Expect(cfg.Targets[0].SecurityLevel).To(Equal("authPriv"))
		Expect(cfg.Status.Enabled).To(BeFalse())
		Expect(cfg.Status.Address).To(Equal("127.0.0.1:8161"))
	})

	It("takes environment values over defaults", func() {
		Expect(os.Setenv("PSNMP_TEST_AUTH_PASS", "fromenvironment")).To(Succeed())
		DeferCleanup(os.Unsetenv, "PSNMP_TEST_AUTH_PASS")

		cfg, err := Load(writeFile("engine.yml", testConfig))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Users[0].AuthPassphrase).To(Equal("fromenvironment"))
	})

	It("reads JSON", func() {
		cfg, err := Load(writeFile("engine.json", `{"communities": [{"community": "public"}], "status": {"enabled": true}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Communities).To(HaveLen(1))
		Expect(cfg.Status.Enabled).To(BeTrue())
		Expect(cfg.Engine.DefaultTimeout).To(Equal("1s"))
	})

	It("accepts an empty file", func() {
		cfg, err := Parse(nil, FormatYAML)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Users).To(BeEmpty())
		Expect(cfg.Engine.DefaultRetries).To(Equal(3))
	})

	It("rejects unknown extensions", func() {
		_, err := Load(writeFile("engine.toml", "a = 1"))
		Expect(err).To(MatchError(ErrUnsupportedFormat))
	})

	DescribeTable("rejecting invalid files",
		func(content string) {
			_, err := Parse([]byte(content), FormatYAML)
			Expect(err).To(MatchError(ErrInvalid))
		},
		Entry("unknown field", "engine:\n  bogus: 1\n"),
		Entry("message size below minimum", "engine:\n  maxMsgSize: 100\n"),
		Entry("unknown auth protocol", "users:\n  - name: u\n    authProtocol: sha3\n    authPassphrase: authpass123\n"),
		Entry("short passphrase", "users:\n  - name: u\n    authProtocol: md5\n    authPassphrase: short\n"),
		Entry("privacy without authentication", "users:\n  - name: u\n    privProtocol: aes\n    privPassphrase: privpass123\n"),
		Entry("missing passphrase", "users:\n  - name: u\n    authProtocol: md5\n"),
		Entry("v3 target without user", "targets:\n  - name: t\n    address: 192.0.2.1\n    version: \"3\"\n"),
		Entry("duplicate target", "targets:\n  - name: t\n    address: 192.0.2.1\n  - name: t\n    address: 192.0.2.2\n"),
		Entry("bad engine ID", "engine:\n  engineID: xyz\n"),
		Entry("DTLS server without credentials", "transports:\n  - domain: dtls\n    address: \":10161\"\n"),
	)
})

var _ = Describe("expandEnvironmentVariables", func() {
	It("handles defaults and plain references", func() {
		Expect(os.Setenv("PSNMP_TEST_SET", "value")).To(Succeed())
		DeferCleanup(os.Unsetenv, "PSNMP_TEST_SET")

		out := expandEnvironmentVariables([]byte("a: ${PSNMP_TEST_UNSET:-fallback}\nb: ${PSNMP_TEST_SET:-x}\nc: $PSNMP_TEST_SET\nd: ${PSNMP_TEST_SET}"))
		Expect(string(out)).To(Equal("a: fallback\nb: value\nc: value\nd: value"))
	})
})

var _ = Describe("conversions", func() {
	var cfg *Config

	BeforeEach(func() {
		var err error
		cfg, err = Parse([]byte(testConfig), FormatYAML)
		Expect(err).NotTo(HaveOccurred())
	})

	It("builds the engine configuration", func() {
		ec, err := cfg.EngineConfig(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ec.EngineID).To(HaveLen(17))
		Expect(ec.DefaultRetries).To(Equal(2))
		Expect(ec.DefaultTimeout).To(Equal(time.Second))
		Expect(ec.TimelineTTL).To(Equal(150 * time.Second))

		cfg.Engine.DefaultRetries = 0
		ec, err = cfg.EngineConfig(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ec.DefaultRetries).To(Equal(-1), "zero retries in the file disables retries")
	})

	It("converts users", func() {
		uc, err := cfg.Users[0].USM()
		Expect(err).NotTo(HaveOccurred())
		Expect(uc.AuthProtocol).To(Equal(usm.AUTH_PROTOCOL_SHA256))
		Expect(uc.PrivProtocol).To(Equal(usm.PRIV_PROTOCOL_AES128))
		Expect(uc.EngineID).To(BeNil())
	})

	It("converts communities", func() {
		Expect(cfg.Communities[0].Community()).To(Equal(PowerSNMP.Community{
			Name: "public", Community: "public", Access: PowerSNMP.ACCESS_READONLY,
		}))
		Expect(cfg.Communities[1].Community().Access).To(Equal(PowerSNMP.ACCESS_READWRITE))
	})

	It("converts targets", func() {
		core, err := cfg.Targets[0].Target()
		Expect(err).NotTo(HaveOccurred())
		Expect(core.Version).To(Equal(codec.SNMP_VERSION_3))
		Expect(core.SecurityLevel).To(Equal(usm.SECLEVEL_AUTHPRIV))
		Expect(core.SecurityName).To(Equal("monitor"))
		Expect(core.Domain).To(Equal(transport.DomainUDPv4))
		Expect(core.Address.(*net.UDPAddr).Port).To(Equal(161))

		edge, err := cfg.Targets[1].Target()
		Expect(err).NotTo(HaveOccurred())
		Expect(edge.Version).To(Equal(codec.SNMP_VERSION_1))
		Expect(edge.Community).To(Equal("secret"))
		Expect(edge.Timeout).To(Equal(3 * time.Second))
		Expect(edge.Address.(*net.UDPAddr).Port).To(Equal(1161))
	})

	DescribeTable("resolving addresses",
		func(domain, address, want string) {
			addr, err := ResolveAddress(domain, address)
			Expect(err).NotTo(HaveOccurred())
			Expect(addr.String()).To(Equal(want))
		},
		Entry("udp4 default port", transport.DomainUDPv4, "192.0.2.1", "192.0.2.1:161"),
		Entry("udp6 bare literal", transport.DomainUDPv6, "::1", "[::1]:161"),
		Entry("udp6 bracketed", transport.DomainUDPv6, "[::1]", "[::1]:161"),
		Entry("dtls default port", transport.DomainDTLS, "192.0.2.1", "192.0.2.1:10161"),
		Entry("unix path", transport.DomainUnix, "/run/snmp.sock", "/run/snmp.sock"),
	)

	It("builds transports", func() {
		tr, err := cfg.Transports[0].Transport(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.Domain()).To(Equal(transport.DomainUDPv4))

		tr, err = TransportConfig{Domain: "dtls", DTLS: &DTLSConfig{PSK: "0102030405060708", PSKIdentity: "agent"}}.Transport(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.Domain()).To(Equal(transport.DomainDTLS))

		_, err = TransportConfig{Domain: "dtls", DTLS: &DTLSConfig{CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"}}.Transport(nil)
		Expect(err).To(HaveOccurred())
	})

	It("builds the responder objects", func() {
		mib, err := cfg.Responder.MIB()
		Expect(err).NotTo(HaveOccurred())
		Expect(mib.Len()).To(Equal(2))
		vbs, err := mib.ReadVars(PowerSNMP.RequestInfo{}, []ASNber.ObjectIdentifier{
			codec.MustOID("1.3.6.1.2.1.1.1.0"),
			codec.MustOID("1.3.6.1.2.1.1.7.0"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.Convert_Variable_To_String(vbs[0].Value)).To(Equal("PowerSNMP agent"))
		Expect(vbs[1].Value).To(Equal(codec.SetSNMPVar_Int(72)))
	})

	DescribeTable("object values",
		func(typ string, value any, want codec.SNMPVar) {
			v, err := ObjectConfig{Type: typ, Value: value}.Var()
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(want))
		},
		Entry("counter32", "counter32", 7, codec.SetSNMPVar_Counter32(7)),
		Entry("gauge32", "gauge32", "9", codec.SetSNMPVar_Gauge32(9)),
		Entry("timeticks", "timeticks", 100, codec.SetSNMPVar_TimeTicks(100)),
		Entry("counter64", "counter64", "18446744073709551615", codec.SetSNMPVar_Counter64(18446744073709551615)),
	)

	It("rejects bad object values", func() {
		_, err := ObjectConfig{Type: "integer", Value: "abc"}.Var()
		Expect(err).To(HaveOccurred())
		_, err = ObjectConfig{Type: "ipaddress", Value: "300.1.1.1"}.Var()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Reconcile", func() {
	var eng *PowerSNMP.Engine

	BeforeEach(func() {
		var err error
		eng, err = PowerSNMP.NewEngine(PowerSNMP.Config{})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(eng.Close)
	})

	It("loads and updates the engine tables", func() {
		cfg, err := Parse([]byte(testConfig), FormatYAML)
		Expect(err).NotTo(HaveOccurred())

		ch, err := Apply(eng, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(ch).To(Equal(Changes{UsersAdded: 1, CommunitiesAdded: 2, TargetsAdded: 2}))
		Expect(eng.Users()).To(HaveLen(1))
		Expect(eng.Communities()).To(HaveLen(2))
		Expect(eng.Targets()).To(HaveKey("edge"))

		ch, err = Reconcile(eng, cfg, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(ch.Empty()).To(BeTrue())

		next, err := Parse([]byte(testConfig), FormatYAML)
		Expect(err).NotTo(HaveOccurred())
		next.Targets = next.Targets[:1]
		next.Communities[0].Access = "rw"
		next.Users = append(next.Users, UserConfig{Name: "guest", AuthProtocol: "none", PrivProtocol: "none"})

		ch, err = Reconcile(eng, cfg, next)
		Expect(err).NotTo(HaveOccurred())
		Expect(ch).To(Equal(Changes{
			UsersAdded:         1,
			CommunitiesAdded:   1,
			CommunitiesRemoved: 1,
			TargetsRemoved:     1,
		}))
		Expect(eng.Targets()).NotTo(HaveKey("edge"))
		Expect(eng.Users()).To(HaveLen(2))
		Expect(eng.Communities()[1].Access).To(Equal(PowerSNMP.ACCESS_READWRITE))
	})

	It("applies the valid entries when some fail", func() {
		cfg := &Config{
			Users:       []UserConfig{{Name: "bad", AuthProtocol: "sha3"}},
			Communities: []CommunityConfig{{Community: "public", Access: "ro"}},
		}
		ch, err := Apply(eng, cfg)
		Expect(err).To(MatchError(usm.ErrUnknownProtocol))
		Expect(ch.CommunitiesAdded).To(Equal(1))
		Expect(ch.UsersAdded).To(BeZero())
	})
})

var _ = Describe("Watcher", func() {
	It("reloads when the file is written", func() {
		path := writeFile("engine.yaml", "communities:\n  - community: public\n")
		w, err := NewWatcher(path, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(w.Close)

		type change struct {
			old, cur *Config
			err      error
		}
		changes := make(chan change, 16)
		w.OnChange(func(old, cur *Config, err error) { changes <- change{old, cur, err} })
		Expect(w.Start(context.Background())).To(Succeed())
		Expect(w.Start(context.Background())).NotTo(Succeed())

		Expect(os.WriteFile(path, []byte("communities:\n  - community: public\n  - community: private\n"), 0o600)).To(Succeed())
		var got change
		Eventually(changes).WithTimeout(5 * time.Second).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(got.old.Communities).To(HaveLen(1))
		Expect(got.cur.Communities).To(HaveLen(2))
		Expect(w.Config().Communities).To(HaveLen(2))

		Expect(os.WriteFile(path, []byte("engine:\n  maxMsgSize: 1\n"), 0o600)).To(Succeed())
		Eventually(func() error {
			select {
			case c := <-changes:
				return c.err
			default:
				return nil
			}
		}).WithTimeout(5 * time.Second).Should(MatchError(ErrInvalid))
		Expect(w.Config().Communities).To(HaveLen(2), "a failed reload keeps the last configuration")
	})

	It("fails on an invalid initial file", func() {
		_, err := NewWatcher(writeFile("engine.yaml", "engine:\n  bogus: true\n"), nil)
		Expect(err).To(MatchError(ErrInvalid))
	})
})
