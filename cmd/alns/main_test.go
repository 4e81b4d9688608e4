package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evroute/internal/store"
)

func row(cols ...string) string {
	var b strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&b, "%-13s", c)
	}
	return b.String()
}

func writeInstance(t *testing.T) string {
	t.Helper()
	lines := []string{
		row("StringID", "Type", "x", "y", "demand", "ReadyTime", "DueDate", "ServiceTime", "PartnerID"),
		row("D0", "d", "0.0", "0.0", "0.0", "0.0", "1000.0", "0.0", "0"),
		row("S0", "f", "5.0", "5.0", "0.0", "0.0", "1000.0", "0.0", "0"),
		row("C1", "cp", "10.0", "0.0", "10.0", "0.0", "1000.0", "0.0", "C2"),
		row("C2", "cd", "20.0", "0.0", "-10.0", "0.0", "1000.0", "0.0", "C1"),
		"",
		"Q Vehicle fuel tank capacity /500.0/",
		"C Vehicle load capacity /100.0/",
		"r fuel consumption rate /1.0/",
		"g inverse refueling rate /1.0/",
		"v average Velocity /1.0/",
	}
	path := filepath.Join(t.TempDir(), "mini.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPrintsSolution(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeInstance(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-iterations", "10", "-ev", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"mini.txt", "total distance: 40.00", "unserved: 0", "new_best"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunJSON(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeInstance(t)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-json", "-iterations", "5", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var res store.RunResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != store.StatusDone || len(res.Routes) != 1 || res.Summary.Iterations != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Fatalf("no args: exit %d", code)
	}
	if code := run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.txt")}, &stdout, &stderr); code != 1 {
		t.Fatalf("missing file: exit %d", code)
	}
}
