// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
	"github.com/OlegPowerC/powersnmpengine/walk"
)

func main() {
	Host := flag.String("h", "", "Switch or routers IP")
	Port := flag.Int("p", 161, "SNMP port")
	SNMPVersion := flag.Int("v", 3, "SNMP version, 1, 2 or 3, default is 3")
	SNMPuser := flag.String("u", "", "SNMP v3 USER")
	SNMPcommunity := flag.String("c", "", "Mandatory for version 1 and 2, SNMP read community name")
	SNMPv3Context := flag.String("context", "", "SNMP v3 context")
	SNMPauthProtocol := flag.String("a", "", "SNMP auth protocol")
	SNMPauthPassword := flag.String("A", "", "SNMP auth password")
	SNMPprivProtocol := flag.String("x", "", "SNMP priv protocol")
	SNMPprivPassword := flag.String("X", "", "SNMP priv password")
	Bulk := flag.Bool("bulk", false, "SNMP Bulk")
	MaxRepetitions := flag.Int("maxrep", 50, "GETBULK max-repetitions")
	Timeout := flag.Duration("t", 800*time.Millisecond, "Timeout between retries")
	Retries := flag.Int("retries", 5, "Retry count")
	DebugLevel := flag.Int("debug", 0, "Debug level: 0 warnings, 1 info, 2 debug")
	StrOid := flag.String("o", "1.3.6", "SNMP OID")
	RawToo := flag.Bool("r", false, "RAW data")
	flag.Parse()

	if *Host == "" {
		fmt.Println("Host is required (-h)")
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Output = "stderr"
	switch {
	case *DebugLevel >= 2:
		logCfg.Level = logging.LevelDebug
	case *DebugLevel == 1:
		logCfg.Level = logging.LevelInfo
	default:
		logCfg.Level = logging.LevelWarn
	}
	logger, closer, err := logging.New(logCfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer closer.Close()

	eng, err := PowerSNMP.NewEngine(PowerSNMP.Config{Logger: logger})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer eng.Close()
	if err := eng.AddTransport(transport.NewUDPClient("udp4", logging.Component(logger, logging.ComponentTransport))); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(*Host, strconv.Itoa(*Port)))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	Target := PowerSNMP.Target{
		Address:     addr,
		Community:   *SNMPcommunity,
		ContextName: *SNMPv3Context,
		Timeout:     *Timeout,
		Retries:     *Retries,
	}
	switch *SNMPVersion {
	case 1:
		Target.Version = codec.SNMP_VERSION_1
	case 2:
		Target.Version = codec.SNMP_VERSION_2C
	case 3:
		Target.Version = codec.SNMP_VERSION_3
		Target.SecurityName = *SNMPuser
		authProto, err := usm.ParseAuthProtocol(*SNMPauthProtocol)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		privProto, err := usm.ParsePrivProtocol(*SNMPprivProtocol)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		UserErr := eng.AddUser(usm.UserConfig{
			Name:           *SNMPuser,
			AuthProtocol:   authProto,
			AuthPassphrase: *SNMPauthPassword,
			PrivProtocol:   privProto,
			PrivPassphrase: *SNMPprivPassword,
		})
		if UserErr != nil {
			fmt.Println(UserErr)
			os.Exit(1)
		}
		switch {
		case privProto != usm.PRIV_PROTOCOL_NONE:
			Target.SecurityLevel = usm.SECLEVEL_AUTHPRIV
		case authProto != usm.AUTH_PROTOCOL_NONE:
			Target.SecurityLevel = usm.SECLEVEL_AUTHNOPRIV
		default:
			Target.SecurityLevel = usm.SECLEVEL_NOAUTH_NOPRIV
		}
	default:
		fmt.Println("Unsupported SNMP version", *SNMPVersion)
		os.Exit(2)
	}

	iArOID, err := codec.Convert_OID_StringToIntArray_RAW(*StrOid)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()

	rows, WalkErr := eng.Walk(ctx, Target, []ASNber.ObjectIdentifier{iArOID}, walk.Options{Bulk: *Bulk, MaxRepetitions: *MaxRepetitions})
	for _, row := range rows {
		for _, gdata := range row {
			if *RawToo {
				fmt.Println(codec.Convert_OID_IntArrayToString_RAW(gdata.OID), "=", codec.Convert_Variable_To_String(gdata.Value), ":", codec.Convert_ClassTag_to_String(gdata.Value), gdata.Value.Value)
			} else {
				fmt.Println(codec.Convert_OID_IntArrayToString_RAW(gdata.OID), "=", codec.Convert_Variable_To_String(gdata.Value), ":", codec.Convert_ClassTag_to_String(gdata.Value))
			}
		}
	}
	if WalkErr != nil {
		SNMPerr, CommonErr := PowerSNMP.ParseError(WalkErr)
		if CommonErr != nil {
			fmt.Println(CommonErr)
		} else {
			for _, oe := range SNMPerr.Oids {
				fmt.Println(oe.ErrorDescription)
			}
		}
		os.Exit(1)
	}
}
