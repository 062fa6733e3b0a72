package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/nredf-scheduler/internal/config"
	"github.com/signalsfoundry/nredf-scheduler/qos"
)

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return out.String(), err
}

// executeRaw runs the CLI without the default --log-level flag and returns
// stdout and stderr.
func executeRaw(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestRunAppliesScenarioLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.yaml")
	doc := "duration: 5ms\nlogging:\n  level: debug\n  format: json\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []struct {
		name      string
		env       string
		args      []string
		wantDebug bool
	}{
		{name: "scenario", wantDebug: true},
		{name: "env overrides scenario", env: "warn"},
		{name: "flag overrides scenario", args: []string{"--log-level", "error"}},
		{name: "flag overrides env", env: "error", args: []string{"--log-level", "debug"}, wantDebug: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tc.env)
			t.Setenv("LOG_FORMAT", "")

			args := append([]string{"run", "--config", path}, tc.args...)
			_, stderr, err := executeRaw(t, args...)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			gotDebug := strings.Contains(stderr, `"level":"DEBUG"`)
			if gotDebug != tc.wantDebug {
				t.Fatalf("debug lines = %v, want %v; stderr:\n%s", gotDebug, tc.wantDebug, stderr)
			}
			if tc.wantDebug && !strings.Contains(stderr, `"msg":"granted"`) {
				t.Fatalf("expected JSON grant lines from the scenario format; stderr:\n%s", stderr)
			}
		})
	}
}

func TestRunCommandPrintsSummary(t *testing.T) {
	out, err := executeCmd(t, "run", "--duration", "50ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{`Scenario "mixed-qos"`, "50 TTIs", "1025/1", "1026/1", "1027/1", "DCGBR"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Saved run") {
		t.Fatalf("results saved without --db:\n%s", out)
	}
}

func TestRunCommandRejectsBadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("tti: 0s\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := executeCmd(t, "run", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "tti must be positive") {
		t.Fatalf("run = %v, want tti validation error", err)
	}
}

func TestRunSaveAndBrowseResults(t *testing.T) {
	db := filepath.Join(t.TempDir(), "results.db")

	out, err := executeCmd(t, "run", "--duration", "30ms", "--seed", "9", "--db", db)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := regexp.MustCompile(`Saved run (\S+)`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no run id in output:\n%s", out)
	}
	id := m[1]

	out, err = executeCmd(t, "results", "list", "--db", db)
	if err != nil {
		t.Fatalf("results list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "mixed-qos") {
		t.Fatalf("list output missing run:\n%s", out)
	}

	out, err = executeCmd(t, "results", "show", id, "--db", db)
	if err != nil {
		t.Fatalf("results show: %v", err)
	}
	if !strings.Contains(out, "seed 9") || !strings.Contains(out, "1025/1") {
		t.Fatalf("show output:\n%s", out)
	}

	if _, err := executeCmd(t, "results", "delete", id, "--db", db); err != nil {
		t.Fatalf("results delete: %v", err)
	}
	out, err = executeCmd(t, "results", "list", "--db", db)
	if err != nil {
		t.Fatalf("results list: %v", err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Fatalf("run not deleted:\n%s", out)
	}
}

func TestScenarioCommandRoundTrips(t *testing.T) {
	out, err := executeCmd(t, "scenario")
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	s, err := config.Parse(strings.NewReader(out))
	if err != nil {
		t.Fatalf("printed scenario does not parse: %v\n%s", err, out)
	}
	if len(s.Flows) != len(config.Default().Flows) {
		t.Fatalf("flows = %d", len(s.Flows))
	}
}

func TestQoSCommands(t *testing.T) {
	out, err := executeCmd(t, "qos", "list")
	if err != nil {
		t.Fatalf("qos list: %v", err)
	}
	if !strings.Contains(out, "Discrete Automation") || !strings.Contains(out, "DCGBR") {
		t.Fatalf("qos list output:\n%s", out)
	}

	out, err = executeCmd(t, "qos", "dump")
	if err != nil {
		t.Fatalf("qos dump: %v", err)
	}
	cat, err := qos.LoadCatalog(strings.NewReader(out))
	if err != nil {
		t.Fatalf("dumped table does not load: %v", err)
	}
	if cat.Len() != qos.Default().Len() {
		t.Fatalf("dumped %d classes, want %d", cat.Len(), qos.Default().Len())
	}

	path := filepath.Join(t.TempDir(), "table.yaml")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := executeCmd(t, "qos", "list", "--table", path); err != nil {
		t.Fatalf("qos list --table: %v", err)
	}
}

func TestHealthCommand(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	out, err := executeCmd(t, "health", "--addr", lis.Addr().String())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "SERVING") {
		t.Fatalf("health output: %s", out)
	}

	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	if _, err := executeCmd(t, "health", "--addr", lis.Addr().String()); err == nil {
		t.Fatalf("expected error for NOT_SERVING")
	}
}

func TestServeReportsHealthWhileRunning(t *testing.T) {
	s := config.Default()
	s.Duration = 50 * time.Millisecond

	var status healthpb.HealthCheckResponse_ServingStatus
	var checkErr error
	var out bytes.Buffer
	err := serve(context.Background(), serveOptions{
		scenario:    s,
		grpcAddr:    "127.0.0.1:0",
		accelerated: true,
		ready: func(addr string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := checkHealth(ctx, addr, HealthService)
			if err != nil {
				checkErr = err
				return
			}
			status = resp.GetStatus()
		},
	}, &out)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if checkErr != nil {
		t.Fatalf("health check: %v", checkErr)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status while running = %v", status)
	}
	if !strings.Contains(out.String(), "50 TTIs") {
		t.Fatalf("summary not printed:\n%s", out.String())
	}
}
