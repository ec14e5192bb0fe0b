package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/config"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/mqtt"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/remote"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/terminal"
)

// errNotConfirmed is returned when the typed confirmation does not match.
var errNotConfirmed = errors.New("not confirmed")

type remoteRequest struct {
	Kind      string
	Value     string
	Note      string
	AssumeYes bool
}

func remoteLimits(cfg *config.Config) remote.Limits {
	r := cfg.Remote
	return remote.Limits{
		MaxBolus:      r.MaxBolus,
		MaxCarbs:      int(r.MaxCarbs),
		Overrides:     remote.ParsePresets(r.Overrides),
		TempTargets:   remote.ParsePresets(r.TempTargets),
		CustomActions: remote.ParsePresets(r.CustomActions),
	}
}

// runRemote builds the command, asks for confirmation and dispatches it over
// the configured transport.
func runRemote(ctx context.Context, cfg *config.Config, req remoteRequest, in io.Reader, out io.Writer, log *slog.Logger) error {
	kind, err := remote.ParseKind(req.Kind)
	if err != nil {
		return err
	}
	cmd, err := remote.Build(remote.Request{Kind: kind, Value: req.Value, Note: req.Note}, remoteLimits(cfg))
	if err != nil {
		return err
	}

	if !req.AssumeYes {
		if f, ok := in.(*os.File); ok && !terminal.Interactive(f) {
			return errors.New("stdin is not a terminal; pass -yes to send without confirmation")
		}
		if err := confirm(in, out, cmd); err != nil {
			return err
		}
	}

	d, closeFn, err := dispatcher(cfg, out, log)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := d.Dispatch(ctx, cmd); err != nil {
		return err
	}
	log.Info("remote command sent", "kind", cmd.Kind, "text", cmd.Text, "id", cmd.ID, "method", cfg.Remote.Method)
	return nil
}

// confirm shows the command and requires the kind name to be typed back.
func confirm(in io.Reader, out io.Writer, cmd remote.Command) error {
	fmt.Fprintf(out, "About to send %s: %s\n", cmd.Kind, cmd.Text)
	fmt.Fprintf(out, "Type %q to confirm: ", string(cmd.Kind))
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(line), string(cmd.Kind)) {
		return errNotConfirmed
	}
	return nil
}

func dispatcher(cfg *config.Config, out io.Writer, log *slog.Logger) (remote.Dispatcher, func(), error) {
	if cfg.Remote.Method != config.RemoteMQTT {
		return remote.ShortcutDispatcher{W: out}, func() {}, nil
	}
	m := cfg.MQTT
	c, err := mqtt.Connect(mqtt.ClientConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Logger:   log,
	})
	if err != nil {
		return nil, nil, err
	}
	return mqtt.NewStatusPublisher(c.Native(), m.TopicPrefix, log), c.Close, nil
}
