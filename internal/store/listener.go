package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Listener is a dedicated connection held in LISTEN mode. Pooled
// connections cannot carry LISTEN state, so the bridge owns one
// physical connection and multiplexes channels over it.
type Listener struct {
	conn *pgx.Conn
}

// NewListener opens a fresh connection for LISTEN/NOTIFY traffic.
func (s *Store) NewListener(ctx context.Context) (*Listener, error) {
	conn, err := pgx.Connect(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("store: connect listener: %w", err)
	}
	return &Listener{conn: conn}, nil
}

// Listen subscribes the connection to a channel. Channel names are
// session ids, quoted because uuids are not valid bare identifiers.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, fmt.Sprintf(`LISTEN %s`, pgx.Identifier{channel}.Sanitize()))
	return err
}

// Unlisten removes a channel subscription.
func (l *Listener) Unlisten(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, fmt.Sprintf(`UNLISTEN %s`, pgx.Identifier{channel}.Sanitize()))
	return err
}

// WaitForNotification blocks until a notification arrives or ctx ends.
func (l *Listener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.WaitForNotification(ctx)
}

// Close tears down the connection.
func (l *Listener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
