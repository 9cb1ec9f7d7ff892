package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/tandem/internal/client"
	"github.com/haasonsaas/tandem/internal/conflict"
	"github.com/haasonsaas/tandem/internal/realtime"
	"github.com/haasonsaas/tandem/pkg/models"
)

func resolveToken(flag string) string {
	if token := strings.TrimSpace(flag); token != "" {
		return token
	}
	return strings.TrimSpace(os.Getenv("TANDEM_TOKEN"))
}

type watchOptions struct {
	URL                  string
	Token                string
	UserID               string
	Name                 string
	Rooms                []string
	Editing              string
	MaxReconnectAttempts int
}

// watchedEvents are printed by the watch command.
var watchedEvents = []string{
	client.EventConnect,
	client.EventDisconnect,
	realtime.EventConnected,
	realtime.EventUserPresenceUpdate,
	realtime.EventEditingStatusUpdate,
	realtime.EventDataChange,
	realtime.EventConflictDetected,
	realtime.EventError,
}

// eventPrinter writes one JSON object per event.
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w)}
}

func (p *eventPrinter) print(event string, data json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{Event: event, Data: data}
	_ = p.enc.Encode(line) //nolint:errcheck
}

func parseResourceRef(s string) (models.ResourceRef, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" {
		return models.ResourceRef{}, fmt.Errorf("resource %q must be type/id", s)
	}
	return models.ResourceRef{Type: typ, ID: id}, nil
}

// runWatch connects a client session and prints events until interrupted or
// until reconnection gives up.
func runWatch(cmd *cobra.Command, opts watchOptions) error {
	token := resolveToken(opts.Token)
	if token == "" {
		return errors.New("--token or TANDEM_TOKEN is required")
	}
	var editing *models.ResourceRef
	if opts.Editing != "" {
		ref, err := parseResourceRef(opts.Editing)
		if err != nil {
			return err
		}
		editing = &ref
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session := client.NewSession(client.Options{
		URL:                  opts.URL,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		Logger:               slog.Default(),
	})
	printer := newEventPrinter(cmd.OutOrStdout())
	for _, event := range watchedEvents {
		event := event
		session.On(event, func(data json.RawMessage) { printer.print(event, data) })
	}

	failed := make(chan struct{})
	var failOnce sync.Once
	session.On(client.EventReconnectFailed, func(json.RawMessage) {
		failOnce.Do(func() { close(failed) })
	})
	if editing != nil {
		session.On(client.EventConnect, func(json.RawMessage) {
			if err := session.BroadcastEditingStatus(editing.Type, editing.ID, true); err != nil {
				slog.Warn("claim editing status failed", "error", err)
			}
		})
	}
	for _, room := range opts.Rooms {
		if err := session.JoinRoom(room); err != nil {
			return err
		}
	}

	user := models.User{ID: opts.UserID, Name: opts.Name}
	if err := session.Connect(ctx, token, user); err != nil {
		slog.Warn("initial connect failed, retrying", "url", opts.URL, "error", err)
	}

	select {
	case <-ctx.Done():
	case <-failed:
		return client.ErrReconnectExhausted
	}

	if editing != nil {
		_ = session.BroadcastEditingStatus(editing.Type, editing.ID, false) //nolint:errcheck
	}
	return session.Disconnect()
}

type checkOptions struct {
	API          string
	Token        string
	Type         string
	ID           string
	OriginalPath string
	CurrentPath  string
	Strategy     string
	Picks        []string
	Apply        bool
}

func readJSONObject(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func formatValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// applyPicks resolves fields named as field=mine or field=theirs.
func applyPicks(session *conflict.Session, picks []string) error {
	for _, pick := range picks {
		field, choice, ok := strings.Cut(pick, "=")
		if !ok {
			return fmt.Errorf("--pick %q must be field=mine|theirs", pick)
		}
		var err error
		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "mine", "current":
			err = session.PickCurrent(strings.TrimSpace(field))
		case "theirs", "incoming":
			err = session.PickIncoming(strings.TrimSpace(field))
		default:
			return fmt.Errorf("--pick %q must be field=mine|theirs", pick)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func printConflicts(w io.Writer, session *conflict.Session) {
	modifier := session.ConflictingUser()
	who := modifier.DisplayName()
	if who == "" {
		who = "another user"
	}
	fmt.Fprintf(w, "%s %s was changed by %s\n", session.ResourceType(), session.ResourceID(), who)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tMINE\tTHEIRS\tRESOLUTION")
	for _, f := range session.Fields() {
		resolution := "-"
		if v, ok := session.Resolution(f.Name); ok {
			resolution = formatValue(v)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Label, formatValue(f.CurrentValue), formatValue(f.IncomingValue), resolution)
	}
	_ = tw.Flush() //nolint:errcheck
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// promptResolutions asks for a choice on every unresolved field. Blank or
// unknown answers leave the field unresolved.
func promptResolutions(in io.Reader, out io.Writer, session *conflict.Session) error {
	fields := make(map[string]conflict.Field)
	for _, f := range session.Fields() {
		fields[f.Name] = f
	}
	reader := bufio.NewReader(in)
	for _, name := range session.Unresolved() {
		f := fields[name]
		fmt.Fprintf(out, "%s: [m]ine %s, [t]heirs %s, [b]oth, [s]kip? ", f.Label, formatValue(f.CurrentValue), formatValue(f.IncomingValue))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "m", "mine":
			err = session.PickCurrent(name)
		case "t", "theirs":
			err = session.PickIncoming(name)
		case "b", "both", "merge":
			err = session.Resolve(name, conflict.MergeValues(f.CurrentValue, f.IncomingValue))
		default:
			err = nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runCheck runs the pre-save conflict check against the REST API and,
// with --apply, saves the resolved data.
func runCheck(cmd *cobra.Command, opts checkOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	strategy, err := conflict.ParseStrategy(opts.Strategy)
	if err != nil {
		return err
	}
	original, err := readJSONObject(opts.OriginalPath)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}
	current, err := readJSONObject(opts.CurrentPath)
	if err != nil {
		return fmt.Errorf("read current: %w", err)
	}

	fetcher := conflict.NewHTTPFetcher(opts.API, resolveToken(opts.Token))
	save := func(ctx context.Context, data map[string]any) error {
		if !opts.Apply {
			return nil
		}
		saved, err := fetcher.Save(ctx, opts.Type, opts.ID, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s revision %d\n", models.ResourceKey(saved.Type, saved.ID), saved.Revision)
		return nil
	}

	checker, err := conflict.NewChecker(conflict.CheckerOptions{
		Fetcher: fetcher,
		Logger:  slog.Default(),
		OnResolve: func(ctx context.Context, _ *conflict.Session, resolved map[string]any) error {
			return save(ctx, resolved)
		},
	})
	if err != nil {
		return err
	}

	session, err := checker.CheckSession(ctx, opts.Type, opts.ID, original, current, nil)
	if err != nil {
		return err
	}
	if session == nil {
		fmt.Fprintln(out, "no conflicts")
		return save(ctx, current)
	}

	if err := session.SelectStrategy(strategy); err != nil {
		return err
	}
	if err := applyPicks(session, opts.Picks); err != nil {
		return err
	}
	printConflicts(out, session)
	if strategy == conflict.StrategyManual && isTerminal(cmd.InOrStdin()) {
		if err := promptResolutions(cmd.InOrStdin(), out, session); err != nil {
			return err
		}
	}

	if missing := session.Unresolved(); len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", conflict.ErrUnresolved, strings.Join(missing, ", "))
	}
	resolved, err := session.Apply(ctx)
	if err != nil {
		return err
	}
	if !opts.Apply {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resolved)
	}
	return nil
}
