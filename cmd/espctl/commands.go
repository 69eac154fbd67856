package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/espclient/bridge"
	"github.com/c360/espclient/config"
	"github.com/c360/espclient/esp"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/metric"
	"github.com/c360/espclient/model"
	"github.com/c360/espclient/stream"
)

// env is what every command runs against
type env struct {
	conn     *esp.Connection
	cfg      *config.Config
	cli      *CLIConfig
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	out      io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"info":      {"Show server version and configuration", runInfo},
		"projects":  {"List projects", runProjects},
		"load":      {"Load a project from a file or URL", runLoad},
		"delete":    {"Delete projects", runDelete},
		"start":     {"Start projects", runStart},
		"stop":      {"Stop projects", runStop},
		"windows":   {"List windows matching a path", runWindows},
		"events":    {"Print the current events of a window", runEvents},
		"subscribe": {"Stream events from windows as JSON lines", runSubscribe},
		"publish":   {"Publish events from a file or stdin into a window", runPublish},
		"loggers":   {"List server loggers or set a logger level", runLoggers},
		"bridge":    {"Forward windows to NATS and inject NATS subjects into windows", runBridge},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(appName+" "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func (e *env) json() bool {
	return e.cli.Output == "json"
}

func (e *env) writeJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) table(header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func runInfo(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("info")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := e.conn.CheckVersion(ctx); err != nil {
		return err
	}
	info, err := e.conn.ServerInfo(ctx)
	if err != nil {
		return err
	}
	if e.json() {
		return e.writeJSON(info)
	}

	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := e.table("KEY", "VALUE")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%v\n", k, info[k])
	}
	return tw.Flush()
}

func runProjects(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("projects")
	running := fs.Bool("running", false, "Only running projects")
	stopped := fs.Bool("stopped", false, "Only stopped projects")
	filter := fs.String("filter", "", "Server-side filter expression")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *running && *stopped {
		return fmt.Errorf("-running and -stopped are exclusive")
	}

	names := fs.Args()
	list := e.conn.Projects
	switch {
	case *running:
		list = e.conn.RunningProjects
	case *stopped:
		list = e.conn.StoppedProjects
	}
	projects, err := list(ctx, names, *filter)
	if err != nil {
		return err
	}

	sorted := make([]string, 0, len(projects))
	for name := range projects {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	if e.json() {
		return e.writeJSON(sorted)
	}
	tw := e.table("PROJECT", "WINDOWS")
	for _, name := range sorted {
		fmt.Fprintf(tw, "%s\t%d\n", name, len(projects[name].Windows()))
	}
	return tw.Flush()
}

func runLoad(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("load")
	name := fs.String("name", "", "Load under this project name")
	noStart := fs.Bool("no-start", false, "Leave the project stopped")
	noOverwrite := fs.Bool("no-overwrite", false, "Fail if the project exists")
	noConnectors := fs.Bool("no-connectors", false, "Do not start connectors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("load takes one project file or URL")
	}

	var opts []esp.LoadOption
	if *name != "" {
		opts = append(opts, esp.AsProject(*name))
	}
	if *noStart {
		opts = append(opts, esp.NoStart())
	}
	if *noOverwrite {
		opts = append(opts, esp.NoOverwrite())
	}
	if *noConnectors {
		opts = append(opts, esp.NoConnectors())
	}

	src := fs.Arg(0)
	var (
		p   *model.Project
		err error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "file://") {
		p, err = e.conn.LoadProjectURL(ctx, src, opts...)
	} else {
		p, err = e.conn.LoadProjectFile(ctx, src, opts...)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Loaded project %s\n", p.Name())
	return nil
}

func projectAction(verb string, one func(context.Context, string) error) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		fs := newFlagSet(verb)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return fmt.Errorf("%s needs at least one project name", verb)
		}
		for _, name := range fs.Args() {
			if err := one(ctx, name); err != nil {
				return err
			}
			e.logger.Debug("Project updated", "action", verb, "project", name)
		}
		return nil
	}
}

func runDelete(ctx context.Context, e *env, args []string) error {
	return projectAction("delete", e.conn.DeleteProject)(ctx, e, args)
}

func runStart(ctx context.Context, e *env, args []string) error {
	return projectAction("start", e.conn.StartProject)(ctx, e, args)
}

func runStop(ctx context.Context, e *env, args []string) error {
	return projectAction("stop", e.conn.StopProject)(ctx, e, args)
}

func runWindows(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("windows")
	types := fs.String("type", "", "Comma-separated window types, e.g. source,filter")
	filter := fs.String("filter", "", "Server-side filter expression")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "*"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	var kinds []string
	if *types != "" {
		kinds = strings.Split(*types, ",")
	}

	windows, err := e.conn.Windows(ctx, path, kinds, *filter)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(windows))
	for name := range windows {
		names = append(names, name)
	}
	sort.Strings(names)
	if e.json() {
		return e.writeJSON(names)
	}
	tw := e.table("WINDOW", "TYPE")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, windows[name].Kind())
	}
	return tw.Flush()
}

func runEvents(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("events")
	limit := fs.Int("limit", 0, "Maximum number of events")
	sortBy := fs.String("sort", "", "Sort as field:ascending or field:descending")
	filter := fs.String("filter", "", "Server-side filter expression")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("events takes one window")
	}

	t, err := e.conn.WindowEvents(ctx, fs.Arg(0), esp.EventQuery{Filter: *filter, SortBy: *sortBy, Limit: *limit})
	if err != nil {
		return err
	}
	if e.json() {
		rows := make([]map[string]any, 0, t.Len())
		for r := 0; r < t.Len(); r++ {
			rows = append(rows, t.Record(r))
		}
		return e.writeJSON(rows)
	}
	return writeTable(e, t)
}

func writeTable(e *env, t *events.Table) error {
	tw := e.table(t.Columns...)
	for r := 0; r < t.Len(); r++ {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			cells[i] = fmt.Sprint(t.Rows[r][i])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// runSubscribe prints one bridge.Event per line until interrupted or every
// subscription ends
func runSubscribe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("subscribe")
	mode := fs.String("mode", "", "Subscription mode: streaming or updating")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("subscribe needs at least one window")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	enc := json.NewEncoder(e.out)
	g, gctx := errgroup.WithContext(ctx)
	for _, window := range fs.Args() {
		window := window // per-iteration copy; go directive is below 1.22
		opts := []stream.SubscriberOption{
			stream.OnEvent(func(t *events.Table) {
				mu.Lock()
				defer mu.Unlock()
				for _, ev := range bridge.NewEvents(t, time.Now()) {
					if err := enc.Encode(ev); err != nil {
						e.logger.Warn("Write failed", "error", err)
					}
				}
			}),
			stream.OnError(func(err error) {
				e.logger.Error("Subscription error", "window", window, "error", err)
			}),
		}
		if *mode != "" {
			opts = append(opts, stream.WithMode(*mode))
		}
		sub, err := e.conn.NewSubscriber(window, opts...)
		if err != nil {
			return err
		}
		if err := sub.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			defer sub.Close()
			select {
			case <-gctx.Done():
				return nil
			case <-sub.Done():
				return sub.Err()
			}
		})
	}
	return g.Wait()
}

func runPublish(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("publish")
	format := fs.String("format", "", "Data format: csv, xml, json, properties; detected when empty")
	rate := fs.Float64("rate", 0, "Maximum events per second, 0 for unthrottled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("publish takes a window and an optional file")
	}

	var (
		data []byte
		err  error
	)
	if fs.NArg() == 2 && fs.Arg(1) != "-" {
		data, err = os.ReadFile(fs.Arg(1))
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	var opts []stream.PublisherOption
	if *format != "" {
		opts = append(opts, stream.WithPublishFormat(*format))
	}
	if *rate > 0 {
		opts = append(opts, stream.WithThrottle(*rate))
	}
	return e.conn.PublishEvents(ctx, fs.Arg(0), data, opts...)
}

func runLoggers(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("loggers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch fs.NArg() {
	case 0:
	case 2:
		return e.conn.SetLoggerLevel(ctx, fs.Arg(0), fs.Arg(1))
	default:
		return fmt.Errorf("loggers takes no arguments, or a logger name and a level")
	}

	loggers, err := e.conn.Loggers(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(loggers))
	for name := range loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	if e.json() {
		out := make([]esp.Logger, 0, len(names))
		for _, name := range names {
			out = append(out, loggers[name])
		}
		return e.writeJSON(out)
	}
	tw := e.table("LOGGER", "LEVEL")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, loggers[name].Level)
	}
	return tw.Flush()
}
