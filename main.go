package main

import (
	"bufio"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chatd/config"
	"chatd/server"
	"chatd/store"
)

func main() {
	cfg := config.Load()

	srv := server.New(store.New(), &server.Config{
		Addr:         cfg.Addr,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		ProbeTimeout: time.Duration(cfg.ProbeTimeout) * time.Second,
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
	})

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Shutdown()
		os.Remove(cfg.ControlSocket)
	}()

	var g errgroup.Group
	g.Go(srv.Start)
	g.Go(func() error {
		startControlSocket(srv, cfg.ControlSocket)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func startControlSocket(srv *server.Server, path string) {
	// Remove existing socket file
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	log.Printf("Control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, path, conn)
	}
}

func handleControlCommand(srv *server.Server, path string, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for response to be sent
		time.Sleep(100 * time.Millisecond)

		srv.Shutdown()
		os.Remove(path)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
