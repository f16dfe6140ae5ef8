package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeProc(t *testing.T, root, param, content string) {
	t.Helper()
	p := ProcReader{Root: root}.path(param)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fakeProc(t *testing.T, rmem, wmem string) string {
	root := t.TempDir()
	writeProc(t, root, "net.core.rmem_max", rmem)
	writeProc(t, root, "net.core.wmem_max", wmem)
	writeProc(t, root, "net.ipv4.tcp_rmem", "4096\t131072\t6291456\n")
	writeProc(t, root, "net.ipv4.tcp_wmem", "4096 16384 4194304\n")
	return root
}

func TestProcReader_Buffers(t *testing.T) {
	root := fakeProc(t, "212992\n", "212992\n")

	report, err := ProcReader{Root: root}.Buffers()
	if err != nil {
		t.Fatalf("Buffers: %v", err)
	}
	if report.RMemMax != 212992 {
		t.Errorf("rmem_max = %d", report.RMemMax)
	}
	if report.TCPRMem[2] != 6291456 {
		t.Errorf("tcp_rmem = %v", report.TCPRMem)
	}
	if report.Status != "warning" || len(report.Warnings) != 4 {
		t.Errorf("expected 4 warnings, got %s %v", report.Status, report.Warnings)
	}
}

func TestProcReader_MissingFile(t *testing.T) {
	if _, err := (ProcReader{Root: t.TempDir()}).Buffers(); err == nil {
		t.Fatal("expected error for missing proc files")
	}
}

func TestSysctlRead(t *testing.T) {
	root := fakeProc(t, "1\n", "1\n")
	writeProc(t, root, "net.core.somaxconn", "4096\n")

	registry := NewRegistry(nil)
	RegisterSystemTools(registry, ProcReader{Root: root})

	raw, err := registry.Dispatch(context.Background(), "sysctl-read", map[string]any{"parameter": "net.core.somaxconn"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := decode(t, raw)["value"].([]any)[0]; got != float64(4096) {
		t.Fatalf("unexpected value %v", got)
	}

	_, err = registry.Dispatch(context.Background(), "sysctl-read", map[string]any{"parameter": "kernel.../../etc/passwd"})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected execution error for rejected parameter, got %v", err)
	}
}
