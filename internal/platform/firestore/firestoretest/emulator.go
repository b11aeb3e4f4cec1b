//go:build integration

// Package firestoretest runs the Firestore emulator in Docker for integration tests.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/storefront-commerce/api/internal/platform/config"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
)

const (
	emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	readyTimeout  = 30 * time.Second
)

// NewProvider starts a throwaway emulator and returns a provider bound to it. Without a
// reachable Docker daemon the test is skipped.
func NewProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	port := freePort(t)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("127.0.0.1:%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v: %s", err, out)
	}
	container := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", container) })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	if err := waitForTCP(endpoint, readyTimeout); err != nil {
		t.Fatalf("firestore emulator not ready: %v", err)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "storefront-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitForTCP(endpoint string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			return conn.Close()
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(250 * time.Millisecond)
	}
}
