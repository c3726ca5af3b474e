// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

//go:build !unix

package transport

import "syscall"

// SO_REUSEADDR is only applied on unix platforms.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
