package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/logger"
)

const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultRetryMaxElapsedTime  = 10 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second
	commitRetryMaxElapsedTime   = 15 * time.Second

	connectRetryMaxElapsedTime = 1 * time.Minute
)

// newRetryPolicy builds a context-aware exponential backoff for a single
// database operation.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retryableOperation retries the operation on transient errors only.
// GORM sentinel errors and anything not recognized as transient are
// permanent.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) ||
			errors.Is(err, gorm.ErrInvalidTransaction) ||
			errors.Is(err, gorm.ErrDuplicatedKey) ||
			errors.Is(err, gorm.ErrForeignKeyViolated) {
			return backoff.Permanent(err)
		}
		if isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
}

// transientIndicators are substrings of driver errors that have no pg error
// code but still signal a temporary network or server condition.
var transientIndicators = []string{
	"connection refused",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"connection reset by peer",
	"could not translate host name",
	"no route to host",
	"database system is starting up",
	"connection timed out",
	"connection reset",
}

// isTransientError reports whether the error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Connection exceptions (08), insufficient resources (53),
		// deadlocks and serialization failures (40).
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// PostgresRepo backs the merchant, transition log, support ticket, and
// exhausted event repositories with a tenant-scoped GORM connection.
type PostgresRepo struct {
	db *gorm.DB
}

// tenantNamer qualifies every table name with the tenant schema so
// AutoMigrate and queries land in the right place.
type tenantNamer struct {
	schema.NamingStrategy
	schemaName string
}

func (tn tenantNamer) TableName(table string) string {
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

// connectWithRetry opens a GORM connection, retrying transient failures
// for up to a minute. A nil namer connects with GORM defaults.
func connectWithRetry(dsn string, namer schema.Namer, label string) (*gorm.DB, error) {
	connect := func() (*gorm.DB, error) {
		gormCfg := &gorm.Config{}
		if namer != nil {
			gormCfg.NamingStrategy = namer
		}
		db, err := gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Transient postgres connection failure, retrying",
					zap.String("target", label), zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres (%s): %w", label, err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying postgres connection",
			zap.String("target", label), zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = connectRetryMaxElapsedTime

	db, err := backoff.RetryNotifyWithData(connect, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres (%s) after retries: %w", label, err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Log.Warn("Failed to get underlying SQL DB handle for closing", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Log.Warn("Failed to close DB connection", zap.Error(err))
	}
}

// NewPostgresRepo connects to the database, ensures the company's schema
// exists (daisi_<companyID>), and optionally migrates the onboarding
// tables into it.
func NewPostgresRepo(dsn string, autoMigrate bool, companyID string) (*PostgresRepo, error) {
	// The schema has to exist before a schema-scoped connection can work,
	// so bootstrap through a plain connection first.
	bootstrap, err := connectWithRetry(dsn, nil, "default")
	if err != nil {
		return nil, err
	}

	schemaName := fmt.Sprintf("daisi_%s", companyID)
	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))

	if err := bootstrap.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		closeDB(bootstrap)
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	closeDB(bootstrap)

	db, err := connectWithRetry(dsn, tenantNamer{schemaName: schemaName}, schemaName)
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		logger.Log.Info("Running auto-migration for schema", zap.String("schema", schemaName))
		err = db.AutoMigrate(
			&model.MerchantRecord{},
			&model.TransitionLog{},
			&model.SupportTicket{},
			&model.ExhaustedEvent{},
		)
		if err != nil {
			// Migration errors are tolerated here; the table check below
			// decides whether startup can proceed.
			logger.Log.Error("Auto-migration failed or produced errors", zap.Error(err), zap.String("schema", schemaName))
		}
	} else {
		logger.Log.Info("Auto-migration disabled")
	}

	if err := verifyTables(db, schemaName); err != nil {
		closeDB(db)
		return nil, err
	}

	createIndexes(db, schemaName)

	return &PostgresRepo{db: db}, nil
}

// verifyTables confirms every onboarding table exists in the tenant schema.
func verifyTables(db *gorm.DB, schemaName string) error {
	const checkExistsSQL = `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)`

	for _, tableName := range []string{"merchant_records", "onboarding_transitions", "support_tickets", "exhausted_events"} {
		var exists bool
		if err := db.Raw(checkExistsSQL, schemaName, tableName).Scan(&exists).Error; err != nil {
			return fmt.Errorf("failed to check for '%s' table existence in schema %s: %w", tableName, schemaName, err)
		}
		if !exists {
			return fmt.Errorf("'%s' table does not exist after auto-migration in schema %s", tableName, schemaName)
		}
		logger.Log.Debug("Table verified post-migration", zap.String("table", tableName), zap.String("schema", schemaName))
	}
	return nil
}

// createIndexes adds indexes beyond the model tag declarations. Failures
// are logged, not fatal; the next start retries them.
func createIndexes(db *gorm.DB, schemaName string) {
	indexes := map[string]string{
		"idx_merchant_records_phone":     fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_merchant_records_phone ON %q.merchant_records USING btree (phone_number);", schemaName),
		"idx_merchant_records_step":      fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_merchant_records_step ON %q.merchant_records USING btree (onboarding_step);", schemaName),
		"idx_transitions_record_id":      fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_transitions_record_id ON %q.onboarding_transitions USING btree (record_id);", schemaName),
		"idx_transitions_timestamp":      fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_transitions_timestamp ON %q.onboarding_transitions USING btree (timestamp);", schemaName),
		"idx_support_tickets_reference":  fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_support_tickets_reference ON %q.support_tickets USING btree (reference_id);", schemaName),
		"idx_support_tickets_phone_stat": fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_support_tickets_phone_stat ON %q.support_tickets USING btree (phone_number, ticket_status);", schemaName),
	}
	for indexName, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Log.Warn("Failed to create index", zap.String("indexName", indexName), zap.Error(err))
		}
	}
}

// Ping verifies the database connection, for readiness probes.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed")
	return nil
}

// checkConstraintViolation maps database errors onto the apperrors
// sentinels so callers can branch without knowing pg error codes.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}

	switch pgErr.Code {
	// Integrity constraint violations (class 23)
	case "23505":
		return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
	case "23503":
		return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
	case "23502":
		return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
	case "23514":
		return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

	// Data exceptions (class 22)
	case "22001":
		return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
	case "22P02":
		return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

	// Transaction rollback (class 40): serialization failures and
	// deadlocks surface as database errors for the retry layer.
	case "40001", "40P01":
		return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
	}

	if strings.HasPrefix(pgErr.Code, "53") {
		return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
	}
	if strings.HasPrefix(pgErr.Code, "08") {
		return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
	}
	return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
}
