// Пакет wal — журнал незавершённых операций над парами blob-ов.
// Запись создаётся до записи файлов и закрывается после записи в каталог
// (или после компенсирующего удаления). Записи, оставшиеся pending после
// падения процесса, разбираются при старте.
// Каждая транзакция — отдельный файл {tx_id}.wal.json.
package wal

import (
	"time"
)

// OperationType — тип операции в журнале.
type OperationType string

const (
	// OpAssetIngest — запись пары blob-ов и строки каталога.
	OpAssetIngest OperationType = "asset_ingest"
	// OpAssetDelete — удаление строки каталога и пары blob-ов.
	OpAssetDelete OperationType = "asset_delete"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// BlobPair — пара blob-ов, которой касается транзакция.
type BlobPair struct {
	// Filename — сгенерированное имя оригинала
	Filename string `json:"filename"`
	// OriginalPath, ThumbnailPath — пути относительно корня хранилища
	OriginalPath  string `json:"original_path"`
	ThumbnailPath string `json:"thumbnail_path"`
}

// Entry — запись журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`
	Blobs         BlobPair          `json:"blobs"`
	// OwnerID — sub инициатора операции
	OwnerID   string     `json:"owner_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	// CompletedAt — nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func walFileName(txID string) string {
	return txID + ".wal.json"
}
