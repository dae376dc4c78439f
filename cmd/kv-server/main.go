package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/leonardcser/api-relay/internal/kv"
	"github.com/leonardcser/api-relay/internal/logger"
)

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	sock := defaultString(os.Getenv("RELAY_KV_SOCK"), defaultPath("kv.sock"))
	db := defaultString(os.Getenv("RELAY_KV_DB"), defaultPath("relay.bbolt"))

	// Ensure socket and db dirs exist and remove stale socket
	_ = os.MkdirAll(filepath.Dir(sock), 0o755)
	_ = os.MkdirAll(filepath.Dir(db), 0o755)
	_ = os.Remove(sock)

	l, err := net.Listen("unix", sock)
	if err != nil {
		logger.Errorf("kv daemon: listen on %s: %v", sock, err)
		panic(err)
	}
	_ = os.Chmod(sock, 0o600)

	store, err := kv.Open(db, kv.Options{})
	if err != nil {
		_ = l.Close()
		logger.Errorf("kv daemon: open %s: %v", db, err)
		panic(err)
	}
	defer store.Close()
	logger.Infof("kv daemon serving %s on %s", db, sock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	if err := kv.Serve(l, store); err != nil {
		logger.Errorf("kv daemon: %v", err)
	}
	_ = os.Remove(sock)
	logger.Infof("kv daemon stopped")
}

func defaultPath(name string) string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "api-relay", name)
}

func defaultString(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
