//go:build !unix

package network

import "syscall"

func listenControl(network, address string, c syscall.RawConn) error {
	return nil
}
