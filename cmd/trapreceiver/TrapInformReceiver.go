// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
)

/*
Тестирование при помощи net-snmp
Протоколы:
sha + aes128
sha + aes192 с типом расширения ключа AGENT++
sha + aes256 с типом расширения ключа AGENT++
sha256 + aes256 с типом расширения ключа AGENT++

Informs are acknowledged by this engine, so net-snmp must use its engine ID
(printed at startup, or fixed with -e):

snmpinform -v 3 -u snmpuser -a sha -A pass123456 -l authPriv -x aes -X priv123456 -e 0x80001f8880f7996d5a41965d69 192.168.0.143 42 coldStart.0
snmpinform -v 3 -u snmpuser256256 -a SHA-256 -A pass123456 -l authPriv -x aes-256 -X priv123456 -e 0x80001f8880f7996d5a41965d69 192.168.0.143 42 coldStart.0

Traps carry the sender's engine ID; users are localized to it on first use:

snmptrap -v 3 -u snmpuser -a sha -A pass123456 -l authPriv -x aes -X priv123456 192.168.0.143 42 coldStart.0

Тестирование SNMPv1/SNMPv2C
snmpinform -v 2c -c public 192.168.0.143 42 coldStart.0
snmptrap -v 1 -c public 192.168.0.143 1.3.6.1.4.1.9 192.168.0.1 6 1 42

Тут 192.168.0.143 - ваш IP куда посылать трап
*/

var users = []usm.UserConfig{
	{Name: "snmpuser", AuthProtocol: usm.AUTH_PROTOCOL_SHA, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES128, PrivPassphrase: "priv123456"},
	{Name: "snmpuser192", AuthProtocol: usm.AUTH_PROTOCOL_SHA, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES192A, PrivPassphrase: "priv123456"},
	{Name: "snmpuser256", AuthProtocol: usm.AUTH_PROTOCOL_SHA, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES256A, PrivPassphrase: "priv123456"},
	{Name: "snmpuser256256", AuthProtocol: usm.AUTH_PROTOCOL_SHA256, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES256A, PrivPassphrase: "priv123456"},
	{Name: "snmpuserm", AuthProtocol: usm.AUTH_PROTOCOL_MD5, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES128, PrivPassphrase: "priv123456"},
	{Name: "snmpuserm192", AuthProtocol: usm.AUTH_PROTOCOL_MD5, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES192A, PrivPassphrase: "priv123456"},
	{Name: "snmpuserm256", AuthProtocol: usm.AUTH_PROTOCOL_MD5, AuthPassphrase: "pass123456", PrivProtocol: usm.PRIV_PROTOCOL_AES256A, PrivPassphrase: "priv123456"},
}

func printNotification(n PowerSNMP.Notification) {
	var msgTypeStr, ackStatus string
	switch n.Kind {
	case PowerSNMP.TRAP_MESSAGE:
		msgTypeStr = "TRAP"
		ackStatus = "(ACK не требуется)"
	case PowerSNMP.INFORM_MESSAGE:
		msgTypeStr = "INFORM"
		ackStatus = "(ACK отправлен)"
	default:
		msgTypeStr = fmt.Sprintf("UNKNOWN(%d)", n.Kind)
	}
	versionStr := "1"
	switch n.Version {
	case codec.SNMP_VERSION_2C:
		versionStr = "2c"
	case codec.SNMP_VERSION_3:
		versionStr = "3"
	}

	fmt.Println("─────────────────────────────────────────────────────────")
	fmt.Printf("Source:       %s\n", n.Source)
	fmt.Printf("SNMP Version: v%s\n", versionStr)
	fmt.Printf("Message Type: %s %s\n", msgTypeStr, ackStatus)
	if n.Version == codec.SNMP_VERSION_3 {
		fmt.Printf("User:         %s, EngineID %s\n", n.SecurityName, hex.EncodeToString(n.SecurityEngineID))
	} else {
		fmt.Printf("Community:    %s\n", n.Community)
	}
	if trapOID := PowerSNMP.NotificationOID(n.PDU); trapOID != nil {
		fmt.Printf("Trap OID:     %s\n", codec.Convert_OID_IntArrayToString_RAW(trapOID))
	}
	fmt.Printf("RequestID:    %d\n", n.PDU.RequestID)
	fmt.Printf("VarBinds:     %d\n", len(n.PDU.VarBinds))
	fmt.Println("─────────────────────────────────────────────────────────")
	for _, gdata := range n.PDU.VarBinds {
		fmt.Println(codec.Convert_OID_IntArrayToString_RAW(gdata.OID), "=", codec.Convert_Variable_To_String(gdata.Value), ":", codec.Convert_ClassTag_to_String(gdata.Value))
	}
}

func main() {
	Listen := flag.String("l", ":162", "Listen address")
	EngineID := flag.String("e", "", "Local engine ID (hex), random when empty")
	Community := flag.String("c", "public", "Accepted v1/v2c community")
	LogLevel := flag.String("log", "warn", "Log level")
	flag.Parse()

	logger, closer, err := logging.New(logging.Config{Level: *LogLevel, Format: logging.FormatLogfmt, Output: "stderr"})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer closer.Close()

	var engineID []byte
	if *EngineID != "" {
		if engineID, err = hex.DecodeString(*EngineID); err != nil {
			fmt.Println("Engine ID:", err)
			os.Exit(1)
		}
	}
	eng, err := PowerSNMP.NewEngine(PowerSNMP.Config{EngineID: engineID, Logger: logger})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer eng.Close()
	for _, u := range users {
		if err := eng.AddUser(u); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}
	if err := eng.AddCommunity(PowerSNMP.Community{Community: *Community}); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	eng.AddNotificationHandler(printNotification)
	if err := eng.AddTransport(transport.NewUDPServer("udp4", *Listen, true, logging.Component(logger, logging.ComponentTransport))); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Printf("Listening on %s, engine ID 0x%s\n", *Listen, hex.EncodeToString(eng.EngineID()))
	fmt.Println("Press Ctrl+C to stop")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
