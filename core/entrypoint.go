package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/encodeous/flowsim/perf"
	"github.com/encodeous/flowsim/state"
	"github.com/encodeous/tint"
	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"
)

func setupDebugging() {
	if state.DBG_debug {
		go func() {
			log.Println(http.ListenAndServe("0.0.0.0:6060", nil))
		}()
	}
}

// Bootstrap runs the node described by nodePath until it receives SIGINT or SIGTERM.
func Bootstrap(nodePath, logPath string, verbose bool) error {
	setupDebugging()
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	nodeCfg, err := state.ReadNodeConfig(nodePath)
	if err != nil {
		return err
	}
	if logPath != "" {
		nodeCfg.LogPath = logPath
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
	}()

	return Start(ctx, *nodeCfg, level, nil, nil)
}

func newLogger(ncfg state.NodeCfg, runId string, logLevel slog.Level) (*slog.Logger, func(), error) {
	closeLog := func() {}
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: string(ncfg.Id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		closeLog = func() { _ = f.Close() }
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}).
			WithAttrs([]slog.Attr{slog.String("node", string(ncfg.Id)), slog.String("run", runId)}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeLog, nil
}

// Start runs a node until ctx is cancelled or a dispatched function fails. transport may be nil, in
// which case a UDP socket is bound to ncfg.Bind. onReady, if set, is called with the node state once
// every module is initialized and before the main loop starts.
func Start(ctx context.Context, ncfg state.NodeCfg, logLevel slog.Level, transport Transport, onReady func(*state.State)) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	state.ExpandNodeConfig(&ncfg)

	dispatch := make(chan func(env *state.State) error, 128)

	runId := uuid.NewString()
	logger, closeLog, err := newLogger(ncfg, runId, logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	s := state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			NodeCfg:         ncfg,
			RunId:           runId,
			Log:             logger,
		},
	}

	s.Log.Info("init modules", "role", ncfg.Role, "run", runId)
	err = initModules(&s, transport)
	if err != nil {
		Stop(&s)
		return err
	}
	s.Log.Info("init modules complete")
	if onReady != nil {
		onReady(&s)
	}

	s.Log.Info("node has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")
	return MainLoop(&s, dispatch)
}

func newRoleHandler(role state.Role) (RoleHandler, error) {
	switch role {
	case state.RoleController:
		return &Controller{}, nil
	case state.RoleRouter:
		return &Router{}, nil
	case state.RoleHost:
		return &Host{}, nil
	}
	return nil, fmt.Errorf("unknown role %q", role)
}

func initModules(s *state.State, transport Transport) error {
	handler, err := newRoleHandler(s.Role)
	if err != nil {
		return err
	}
	var modules []state.Module
	modules = append(modules, &Node{Transport: transport, Handler: handler})
	modules = append(modules, handler)

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	var failure error
	for {
		select {
		case fun := <-dispatch:
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				failure = err
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return failure
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
