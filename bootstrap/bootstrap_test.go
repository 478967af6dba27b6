package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/kbukum/beachhead/component"
	"github.com/kbukum/beachhead/config"
	"github.com/kbukum/beachhead/logger"
)

type testConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Extra                string `mapstructure:"extra"`
}

func (c *testConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	if c.Extra == "" {
		c.Extra = "default"
	}
}

func (c *testConfig) Validate() error { return c.ServiceConfig.Validate() }

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	status   component.HealthStatus

	mu     *sync.Mutex
	events *[]string
}

func (m *mockComponent) record(e string) {
	if m.events == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.events = append(*m.events, e)
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(context.Context) error {
	m.record("start:" + m.name)
	return m.startErr
}
func (m *mockComponent) Stop(context.Context) error {
	m.record("stop:" + m.name)
	return m.stopErr
}
func (m *mockComponent) Health(context.Context) component.Health {
	status := m.status
	if status == "" {
		status = component.StatusHealthy
	}
	return component.Health{Name: m.name, Status: status}
}
func (m *mockComponent) Describe() component.Description {
	return component.Description{Type: "publisher", Details: m.name + ":6379"}
}

func newTestApp(t *testing.T, opts ...Option) (*App[*testConfig], *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithLogger(logger.Nop()), WithSummaryWriter(&out), WithSignals()}, opts...)
	app, err := NewApp(&testConfig{ServiceConfig: config.ServiceConfig{Name: "beachhead-companion"}}, opts...)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return app, &out
}

func TestNewApp(t *testing.T) {
	app, _ := newTestApp(t)
	if app.Name != "beachhead-companion" {
		t.Errorf("Name = %q", app.Name)
	}
	if app.Cfg.Extra != "default" || app.Cfg.Environment != "production" {
		t.Errorf("defaults not applied: %+v", app.Cfg)
	}
	if app.gracefulTimeout != 15*time.Second {
		t.Errorf("gracefulTimeout = %v", app.gracefulTimeout)
	}

	app, _ = newTestApp(t, WithGracefulTimeout(time.Second))
	if app.gracefulTimeout != time.Second {
		t.Errorf("gracefulTimeout = %v, want 1s", app.gracefulTimeout)
	}
}

func TestNewAppValidation(t *testing.T) {
	_, err := NewApp(&testConfig{}, WithLogger(logger.Nop()))
	if err == nil || !strings.Contains(err.Error(), "config.name is required") {
		t.Errorf("NewApp() error = %v", err)
	}
}

func TestRunTask_Lifecycle(t *testing.T) {
	app, out := newTestApp(t)
	var mu sync.Mutex
	var events []string
	rec := func(e string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
			return nil
		}
	}

	_ = app.RegisterComponent(&mockComponent{name: "docker", mu: &mu, events: &events})
	_ = app.RegisterComponent(&mockComponent{name: "redis", mu: &mu, events: &events})
	app.OnStart(rec("onStart"))
	app.OnConfigure(func(ctx context.Context, a *App[*testConfig]) error { return rec("configure")(ctx) })
	app.OnReady(rec("onReady"))
	app.OnStop(rec("onStop"))
	app.Summary.AddNote("interval %s", "27s")

	err := app.RunTask(context.Background(), rec("task"))
	if err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}

	want := []string{"start:docker", "start:redis", "onStart", "configure", "onReady", "task", "onStop", "stop:redis", "stop:docker"}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
	for _, s := range []string{"beachhead-companion", "redis:6379", "All components healthy (2/2)", "interval 27s"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("summary missing %q:\n%s", s, out.String())
		}
	}
}

func TestRunTask_ReturnsTaskError(t *testing.T) {
	app, _ := newTestApp(t)
	want := errors.New("tick failed")
	if err := app.RunTask(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("RunTask() error = %v, want %v", err, want)
	}
}

func TestRunTask_StartupFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(app *App[*testConfig], events *[]string, mu *sync.Mutex)
	}{
		{"component start", func(app *App[*testConfig], events *[]string, mu *sync.Mutex) {
			_ = app.RegisterComponent(&mockComponent{name: "redis", startErr: boom, mu: mu, events: events})
		}},
		{"start hook", func(app *App[*testConfig], _ *[]string, _ *sync.Mutex) {
			app.OnStart(func(context.Context) error { return boom })
		}},
		{"configure", func(app *App[*testConfig], _ *[]string, _ *sync.Mutex) {
			app.OnConfigure(func(context.Context, *App[*testConfig]) error { return boom })
		}},
		{"ready hook", func(app *App[*testConfig], _ *[]string, _ *sync.Mutex) {
			app.OnReady(func(context.Context) error { return boom })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t)
			var mu sync.Mutex
			var events []string
			_ = app.RegisterComponent(&mockComponent{name: "docker", mu: &mu, events: &events})
			tt.setup(app, &events, &mu)

			ran := false
			err := app.RunTask(context.Background(), func(context.Context) error {
				ran = true
				return nil
			})
			if !errors.Is(err, ErrStartup) || !errors.Is(err, boom) {
				t.Errorf("RunTask() error = %v, want ErrStartup wrapping boom", err)
			}
			if ran {
				t.Error("task ran despite failed startup")
			}
			if !slices.Contains(events, "stop:docker") {
				t.Errorf("started component not stopped: %v", events)
			}
		})
	}
}

func TestRunTask_StopErrors(t *testing.T) {
	app, _ := newTestApp(t)
	_ = app.RegisterComponent(&mockComponent{name: "redis", stopErr: errors.New("close failed")})
	if err := app.RunTask(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Error("expected stop error to surface when the task succeeded")
	}

	app, _ = newTestApp(t)
	app.OnStop(func(context.Context) error { return errors.New("hook failed") })
	taskErr := errors.New("task failed")
	if err := app.RunTask(context.Background(), func(context.Context) error { return taskErr }); !errors.Is(err, taskErr) {
		t.Errorf("RunTask() error = %v, want the task error to win", err)
	}
}

func TestRunTask_CancelledBySignal(t *testing.T) {
	app, _ := newTestApp(t, WithSignals(syscall.SIGUSR1))

	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- app.RunTask(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		})
	}()

	<-started
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunTask() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task was not cancelled by the signal")
	}
}

func TestRunTask_CancelledByContext(t *testing.T) {
	app, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := app.RunTask(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Errorf("RunTask() error = %v", err)
	}
}

func TestReadyCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  component.HealthStatus
		wantErr bool
	}{
		{"healthy", component.StatusHealthy, false},
		{"degraded", component.StatusDegraded, true},
		{"unhealthy", component.StatusUnhealthy, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t)
			_ = app.RegisterComponent(&mockComponent{name: "redis", status: tt.status})
			if err := app.ReadyCheck(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("ReadyCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	app, _ := newTestApp(t)
	if err := app.ReadyCheck(context.Background()); err != nil {
		t.Errorf("empty registry ReadyCheck() = %v", err)
	}
}

func TestSummary_Write(t *testing.T) {
	s := NewSummary("beachhead-companion", "")
	var buf bytes.Buffer
	s.Write(context.Background(), &buf, nil)
	if !strings.Contains(buf.String(), "beachhead-companion dev") || !strings.Contains(buf.String(), "No components registered") {
		t.Errorf("summary = %s", buf.String())
	}

	reg := component.NewRegistry(nil)
	_ = reg.Register(&mockComponent{name: "docker", status: component.StatusUnhealthy})
	buf.Reset()
	s.Write(context.Background(), &buf, reg)
	if !strings.Contains(buf.String(), "[down]") || !strings.Contains(buf.String(), "(0/1 healthy)") {
		t.Errorf("summary = %s", buf.String())
	}
}
