// Package storage is the relational store behind every BallotGuard entity.
// All writes go through Store.Transaction; a Tx exposes the primitives an
// operation composes into one atomic unit.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/sruthiidv/BallotGuard-sub000/models"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteFileName = "ballotguard.sqlite"
)

type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
	txOpts *sql.TxOptions
}

// Config selects and locates the database
type Config struct {
	Driver string
	// Path is the sqlite data directory; empty means in-memory
	Path string
	// DSN is the postgres connection string
	DSN string
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Open connects to the configured database and migrates the schema
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		// Create logger to throw away logs
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "storage")

	s := &Store{
		driver: cfg.Driver,
		logger: logger,
	}
	var err error
	switch cfg.Driver {
	case DriverSqlite, "":
		s.driver = DriverSqlite
		s.db, err = openSqlite(cfg.Path)
	case DriverPostgres:
		s.db, err = openPostgres(cfg.DSN)
		s.txOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openSqlite(dataDir string) (*gorm.DB, error) {
	dsn := ":memory:"
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
			filepath.Join(dataDir, sqliteFileName),
		)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection: writers are serialized and an in-memory database
	// lives as long as the store
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres driver requires a dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func (s *Store) init() error {
	// Configure tracing for GORM
	if err := s.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	for _, model := range models.MigrateModels {
		s.logger.Debug(fmt.Sprintf("creating table: %T", model))
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	s.logger.Info("store ready", "driver", s.driver)
	return nil
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}

// DB returns the underlying GORM handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in one database transaction. Any error from fn rolls
// everything back; the error is returned translated to a *models.Error where
// the cause is known.
func (s *Store) Transaction(ctx context.Context, fn func(*Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db})
	}, s.txOptions()...)
	if err == nil {
		return nil
	}
	return translate(ctx, err)
}

func (s *Store) txOptions() []*sql.TxOptions {
	if s.txOpts == nil {
		return nil
	}
	return []*sql.TxOptions{s.txOpts}
}

// reader is a non-transactional Tx for single reads
func (s *Store) reader(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx)}
}

func (s *Store) GetElection(ctx context.Context, id string) (*models.Election, error) {
	e, err := s.reader(ctx).GetElection(id)
	return e, translate(ctx, err)
}

// ListElections returns elections in creation order. Closed and archived
// elections are included only on request.
func (s *Store) ListElections(ctx context.Context, includeClosed bool) ([]models.Election, error) {
	q := s.db.WithContext(ctx).Order("created_at, election_id")
	if !includeClosed {
		q = q.Where("status NOT IN ?", []models.ElectionStatus{models.ElectionClosed, models.ElectionArchived})
	}
	var elections []models.Election
	if err := q.Find(&elections).Error; err != nil {
		return nil, translate(ctx, err)
	}
	return elections, nil
}

func (s *Store) GetVoter(ctx context.Context, id string) (*models.Voter, error) {
	v, err := s.reader(ctx).GetVoter(id)
	return v, translate(ctx, err)
}

func (s *Store) GetVoterStatus(ctx context.Context, electionID, voterID string) (*models.VoterElectionStatus, error) {
	ves, err := s.reader(ctx).GetVoterStatus(electionID, voterID)
	return ves, translate(ctx, err)
}

func (s *Store) GetOVT(ctx context.Context, id string) (*models.OVT, error) {
	o, err := s.reader(ctx).GetOVT(id)
	return o, translate(ctx, err)
}

func (s *Store) GetVote(ctx context.Context, voteID string) (*models.EncryptedVote, error) {
	v, err := s.reader(ctx).GetVote(voteID)
	return v, translate(ctx, err)
}

// ListBlocks returns an election's ledger in index order
func (s *Store) ListBlocks(ctx context.Context, electionID string) ([]models.LedgerBlock, error) {
	blocks, err := s.reader(ctx).ListBlocks(electionID)
	return blocks, translate(ctx, err)
}

func (s *Store) GetBlock(ctx context.Context, electionID string, index uint64) (*models.LedgerBlock, error) {
	var b models.LedgerBlock
	err := s.db.WithContext(ctx).
		Where("election_id = ? AND ledger_index = ?", electionID, index).
		First(&b).Error
	if err != nil {
		return nil, translate(ctx, notFound(err, "ledger block", fmt.Sprintf("%s/%d", electionID, index)))
	}
	return &b, nil
}

// ListVotes returns an election's encrypted ballots in ledger order
func (s *Store) ListVotes(ctx context.Context, electionID string) ([]models.EncryptedVote, error) {
	votes, err := s.reader(ctx).ListVotes(electionID)
	return votes, translate(ctx, err)
}

// ListAuditEvents reads the audit log in append order. An empty electionID
// lists every event; limit <= 0 means no limit.
func (s *Store) ListAuditEvents(ctx context.Context, electionID string, limit int) ([]models.AuditEvent, error) {
	q := s.db.WithContext(ctx).Order("id")
	if electionID != "" {
		q = q.Where("election_id = ?", electionID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var events []models.AuditEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, translate(ctx, err)
	}
	return events, nil
}
