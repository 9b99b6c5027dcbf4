package retained

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("retained_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("retained_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("retained_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("retained_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("retained_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("retained_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
	ErrClosed        = errors.ErrorCode("retained_store_closed")
)
