// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package eventloop

import (
	"net"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/dispatchd/internal/ioutil"
)

// TCPListener wraps a non-blocking IPv4 listening socket, giving the loop
// an fd it can register alongside connection and wake-up fds (spec.md §6:
// "TCP listen on the configured interface/port").
type TCPListener struct {
	fd int
}

// NewTCPListener binds and listens on host:port in non-blocking mode. An
// empty or unparsable host binds the wildcard address.
func NewTCPListener(host string, port int) (*TCPListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		ip = net.IPv4zero
	}
	addr := &unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip.To4())

	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &TCPListener{fd: fd}, nil
}

// FD returns the listening socket's file descriptor.
func (t *TCPListener) FD() int { return t.fd }

// Accept accepts one pending connection, returning ioutil.ErrWouldBlock
// when none is pending.
func (t *TCPListener) Accept() (int, error) {
	connFD, _, err := unix.Accept4(t.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ioutil.ErrWouldBlock
		}
		return 0, err
	}
	return connFD, nil
}

// Close closes the listening socket.
func (t *TCPListener) Close() error {
	return unix.Close(t.fd)
}
