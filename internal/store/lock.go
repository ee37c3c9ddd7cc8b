package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// AcquireLoopLock атомарно захватывает single-flight лок торгового
// цикла. Протухший лок (старше timeout) считается брошенным и
// перехватывается. false — лок держит живой конкурент.
func (s *Store) AcquireLoopLock(ctx context.Context, owner string, timeout time.Duration) (bool, error) {
	tag, err := s.tx.Conn().Exec(ctx, `
		INSERT INTO trading_loop_lock (id, locked_at, locked_by)
		VALUES (1, now(), $1)
		ON CONFLICT (id) DO UPDATE
		SET locked_at = now(), locked_by = $1
		WHERE trading_loop_lock.locked_at < now() - make_interval(secs => $2)`,
		owner, timeout.Seconds())
	if err != nil {
		return false, errors.Wrap(err, "acquire loop lock")
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLoopLock снимает лок, только если мы его и держим: чужой
// перехваченный лок не трогаем.
func (s *Store) ReleaseLoopLock(ctx context.Context, owner string) error {
	_, err := s.tx.Conn().Exec(ctx, `
		DELETE FROM trading_loop_lock WHERE id = 1 AND locked_by = $1`, owner)
	return errors.Wrap(err, "release loop lock")
}
