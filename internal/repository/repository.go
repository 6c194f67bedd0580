// Пакет repository — слой доступа к каталогу изображений в PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrInvalidReference — ссылка на несуществующую запись (альбом).
	ErrInvalidReference = errors.New("ссылка на несуществующую запись")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation — нарушение уникальности (23505).
func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

// isForeignKeyViolation — нарушение внешнего ключа (23503).
func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}
