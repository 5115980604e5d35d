/*
 * Copyright (c) 2023, Kurt Cancemi (kurt@x64architecture.com)
 *
 * This file is part of KC TFTP Server.
 *
 *  KC TFTP Server is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License version 3 as
 *  published by the Free Software Foundation.
 *
 *  KC TFTP Server is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with KC TFTP Server. If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

// Server owns the well-known port of one [servers.<name>] table and hands
// every request datagram to its own session goroutine and socket.
type Server struct {
	config   *KcTftpServerConfig
	metrics  *Metrics
	conn     *net.UDPConn
	sessions sync.WaitGroup
}

func NewServer(c *KcTftpServerConfig, m *Metrics) *Server {
	return &Server{config: c, metrics: m}
}

func printLocalAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Error().Err(err).Msg("Error printing local addresses")
		return
	}
	for _, intf := range ifaces {
		addrs, err := intf.Addrs()
		if err != nil {
			log.Error().Err(err).Msg("Error printing local addresses")
			continue
		}
		for _, addr := range addrs {
			switch addr := addr.(type) {
			case *net.IPNet:
				log.Info().Msgf("Listening on %s (%s)...", net.JoinHostPort(addr.IP.String(), strconv.Itoa(port)), intf.Name)
			}
		}
	}
}

func (s *Server) Listen() error {
	serveAddr, err := net.ResolveUDPAddr("udp", s.config.hostPort)
	if err != nil {
		return fmt.Errorf("error resolving interface address: %w", err)
	}

	conn, err := net.ListenUDP("udp", serveAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	log.Info().Msgf("Server [%s] TFTP GET Directory (%s)", s.config.name, s.config.getDir)
	log.Info().Msgf("Server [%s] TFTP PUT Directory (%s)", s.config.name, s.config.putDir)

	local := s.Addr()
	if local.IP == nil || local.IP.IsUnspecified() {
		printLocalAddresses(local.Port)
	} else {
		log.Info().Msgf("Listening on %s...", local)
	}
	return nil
}

func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reads request datagrams until ctx is cancelled, then waits for the
// sessions already started to finish on their own.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	for {
		buffer := make([]byte, MAX_PKT_SIZE)
		bytesRead, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msgf("Server [%s] stopping, waiting for running sessions", s.config.name)
				s.sessions.Wait()
				return nil
			}
			log.Error().Err(err).Msg("Error reading request")
			continue
		}
		if bytesRead < 2 {
			continue
		}

		s.sessions.Add(1)
		go s.serveSession(addr, buffer[:bytesRead])
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return fmt.Errorf("server [%s]: %w", s.config.name, err)
	}
	return s.Serve(ctx)
}

// serveSession isolates one session: a panic is logged and counted, never
// propagated to the listener.
func (s *Server) serveSession(addr *net.UDPAddr, datagram []byte) {
	defer s.sessions.Done()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			log.Error().Str("peer", addr.String()).Msgf("Session panic: %v\n%s", r, debug.Stack())
		}
	}()

	conn, err := s.newSessionConn()
	if err != nil {
		log.Error().Err(err).Msgf("Cannot open session socket for %s", addr)
		return
	}
	defer conn.Close()

	_ = ServeRequest(s.config, s.metrics, conn, addr, datagram)
}

// newSessionConn opens the per-transfer socket: same IP as the listener, new
// ephemeral port, which becomes the server side TID.
func (s *Server) newSessionConn() (*net.UDPConn, error) {
	local := s.Addr()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: local.IP, Zone: local.Zone})
	if err != nil {
		return nil, err
	}
	if s.config.tos != 0 {
		if err := ipv4.NewConn(conn).SetTOS(s.config.tos); err != nil {
			log.Warn().Err(err).Msgf("Server [%s] cannot set TOS %#x", s.config.name, s.config.tos)
		}
	}
	return conn, nil
}
