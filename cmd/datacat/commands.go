package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/loykin/datacat"
)

// command implements the CLI operations against a running daemon or server.
type command struct {
	global *GlobalFlags
	out    *os.File
}

func (c command) stdout() *os.File {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

func (c command) newClient() *datacat.Client {
	return datacat.NewClient(datacat.ClientConfig{
		BaseURL:    c.global.APIUrl,
		Timeout:    c.global.APITimeout,
		DaemonMode: true,
	})
}

func (c command) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.global.APITimeout)
}

func (c command) Register(f RegisterFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	id, err := c.newClient().RegisterSession(ctx, f.Product, f.Version)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.stdout(), id)
	return nil
}

func (c command) Event(f EventFlags) error {
	data, err := parseJSONMap(f.Data)
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return c.newClient().LogEvent(ctx, f.SessionID, f.Name, data)
}

func (c command) Metric(f MetricFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	cl := c.newClient()
	if f.Type == "" || f.Type == datacat.MetricGauge {
		if !f.HasCount && f.Unit == "" {
			return cl.LogMetric(ctx, f.SessionID, f.Name, f.Value, f.Tags)
		}
	}
	var count *int
	if f.HasCount {
		count = &f.Count
	}
	metricType := f.Type
	if metricType == "" {
		metricType = datacat.MetricGauge
	}
	return cl.LogMetricWithType(ctx, f.SessionID, f.Name, metricType, f.Value, f.Tags, count, f.Unit, nil)
}

func (c command) State(f StateFlags) error {
	state, err := parseJSONMap(f.Data)
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return c.newClient().UpdateState(ctx, f.SessionID, state)
}

func (c command) Heartbeat(f SessionFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.newClient().Heartbeat(ctx, f.SessionID)
}

func (c command) End(f SessionFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.newClient().EndSession(ctx, f.SessionID)
}

func (c command) Session(f SessionFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	details, err := c.newClient().GetSession(ctx, f.SessionID)
	if err != nil {
		return err
	}
	return printJSON(c.stdout(), details)
}

func (c command) Sessions() error {
	ctx, cancel := c.ctx()
	defer cancel()
	sessions, err := c.newClient().ListSessions(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.stdout(), sessions)
}

func (c command) DaemonStart(f DaemonStartFlags) error {
	dm := datacat.NewDaemonManager(datacat.DaemonOptions{
		Port:         f.Port,
		Binary:       f.Binary,
		ServerURL:    f.ServerURL,
		ConfigDir:    f.ConfigDir,
		ReadyTimeout: f.ReadyTimeout,
	})
	if err := dm.Start(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.stdout(), "daemon running: pid=%d port=%s config=%s\n",
		dm.PID(), dm.Port(), dm.ConfigPath())
	return nil
}

func (c command) DaemonStop(f DaemonStopFlags) error {
	if f.PID <= 0 {
		return fmt.Errorf("daemon stop requires --pid")
	}
	p, err := os.FindProcess(f.PID)
	if err != nil {
		return fmt.Errorf("find daemon process %d: %w", f.PID, err)
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", f.PID, err)
	}
	deadline := time.Now().Add(f.Wait)
	for time.Now().Before(deadline) {
		if p.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return p.Kill()
}

func (c command) DaemonStatus() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if c.newClient().IsReachable(ctx) {
		_, _ = fmt.Fprintf(c.stdout(), "daemon reachable at %s\n", c.global.APIUrl)
		return nil
	}
	return fmt.Errorf("daemon not reachable at %s", c.global.APIUrl)
}

func parseJSONMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parse JSON data: %w", err)
	}
	return m, nil
}

func printJSON(out *os.File, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
