package types

import (
	"time"

	"github.com/uptrace/bun"
)

// Sync type tags recorded in the audit log. Every batch job invocation
// appends exactly one row, including no-op and skip outcomes.
const (
	SyncTypeImport         = "import"
	SyncTypeImportSkipped  = "import-skipped"
	SyncTypeImportFailed   = "import-failed"
	SyncTypeExport         = "export"
	SyncTypeCleaner        = "cleaner"
	SyncTypeCleanerSkip    = "cleaner-skip"
	SyncTypeCleanerAbort   = "cleaner-abort"
	SyncTypeExclusionCheck = "exclusion_check"
)

// SyncRecord is one append-only audit row per batch job run. The cleaner and
// importer read the log back to gate re-runs, so rows are best-effort evidence
// of what happened, not a transactional ledger.
type SyncRecord struct {
	bun.BaseModel `bun:"table:sync_history"`

	ID          int64     `bun:",pk,autoincrement"`
	SyncType    string    `bun:",notnull"`
	FileName    string    `bun:",notnull"`
	RecordCount int       `bun:",notnull"`
	SyncDate    time.Time `bun:",notnull,default:current_timestamp"`
	Comment     string    `bun:",type:text"`
}
