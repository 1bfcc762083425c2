// Package pgfeed follows row changes through Postgres LISTEN/NOTIFY.
//
// Rows are announced by a trigger that calls pg_notify with a JSON payload
// of the form {"type": "INSERT", "table": "contacts", "record": {...},
// "old_record": {...}}. TriggerSQL returns a trigger that produces it.
package pgfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) { ln.logger = l }
}

// WithReconnectBackoff sets the initial and maximum reconnect delays.
func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(ln *Listener) {
		ln.initialBackoff = initial
		ln.maxBackoff = max
	}
}

// WithTriggerInstall makes Run install the notify trigger on its first
// successful connection. A failed install is logged and retried on the next
// reconnect; listening continues either way.
func WithTriggerInstall() Option {
	return func(ln *Listener) { ln.install = true }
}

// Listener receives notifications on one channel.
type Listener struct {
	dsn            string
	channel        string
	table          string
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger

	install   bool
	installed bool
}

// NewListener creates a listener for channel. Events without a table name are
// attributed to table.
func NewListener(dsn, channel, table string, opts ...Option) *Listener {
	ln := &Listener{
		dsn:            dsn,
		channel:        channel,
		table:          table,
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(ln)
	}
	return ln
}

// InstallsTrigger reports whether Run installs the trigger itself.
func (ln *Listener) InstallsTrigger() bool { return ln.install }

func (ln *Listener) installOn(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, TriggerSQL(ln.table, ln.channel)); err != nil {
		return fmt.Errorf("install trigger: %w", err)
	}
	return nil
}

// Run listens and calls emit for every well-formed notification until ctx is
// cancelled, reconnecting with exponential backoff.
func (ln *Listener) Run(ctx context.Context, emit func(domain.ChangeEvent)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ln.initialBackoff
	b.MaxInterval = ln.maxBackoff

	for {
		listening, err := ln.session(ctx, emit)
		if ctx.Err() != nil {
			return nil
		}
		if listening {
			b.Reset()
		}

		wait := b.NextBackOff()
		ln.logger.Warn("postgres listener disconnected",
			slog.String("channel", ln.channel),
			slog.Duration("reconnect_in", wait),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (ln *Listener) session(ctx context.Context, emit func(domain.ChangeEvent)) (bool, error) {
	conn, err := pgx.Connect(ctx, ln.dsn)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if ln.install && !ln.installed {
		if err := ln.installOn(ctx, conn); err != nil {
			ln.logger.Error("notify trigger not installed, changes will not be announced",
				slog.String("table", ln.table),
				slog.String("error", err.Error()))
		} else {
			ln.installed = true
			ln.logger.Info("notify trigger installed",
				slog.String("table", ln.table),
				slog.String("channel", ln.channel))
		}
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ln.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	ln.logger.Info("listening for changes", slog.String("channel", ln.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		ev, err := ln.parse(n)
		if err != nil {
			ln.logger.Warn("dropping malformed notification",
				slog.String("channel", n.Channel),
				slog.String("error", err.Error()))
			continue
		}
		emit(ev)
	}
}

type payload struct {
	Type      string        `json:"type"`
	Table     string        `json:"table"`
	Record    domain.Record `json:"record"`
	OldRecord domain.Record `json:"old_record"`
}

func (ln *Listener) parse(n *pgconn.Notification) (domain.ChangeEvent, error) {
	var p payload
	if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
		return domain.ChangeEvent{}, err
	}
	if p.Type == "" {
		return domain.ChangeEvent{}, errors.New("missing type")
	}
	table := p.Table
	if table == "" {
		table = ln.table
	}
	return domain.ChangeEvent{
		Table:     table,
		Type:      domain.ParseChangeType(p.Type),
		Record:    p.Record,
		OldRecord: p.OldRecord,
	}, nil
}

// TriggerSQL returns DDL that publishes every row change on table to channel.
func TriggerSQL(table, channel string) string {
	tbl := pgx.Identifier{table}.Sanitize()
	fn := pgx.Identifier{"crm_notify_" + table}.Sanitize()
	trg := pgx.Identifier{"crm_notify_" + table + "_trg"}.Sanitize()
	ch := "'" + strings.ReplaceAll(channel, "'", "''") + "'"

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(%[4]s, json_build_object(
		'type', TG_OP,
		'table', TG_TABLE_NAME,
		'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
		'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS %[2]s ON %[3]s;
CREATE TRIGGER %[2]s AFTER INSERT OR UPDATE OR DELETE ON %[3]s
	FOR EACH ROW EXECUTE FUNCTION %[1]s();`, fn, trg, tbl, ch)
}
