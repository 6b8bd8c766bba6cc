package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// dialect captures what differs between the SQL backends
type dialect struct {
	name        string
	placeholder func(n int) string
	isDuplicate func(err error) bool
}

// rebind rewrites ? placeholders for the dialect
func (d dialect) rebind(query string) string {
	if d.placeholder == nil {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore holds the mirror queries shared by every SQL backend
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logrus.Entry
}

func (s *sqlStore) ready() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return nil
}

func (s *sqlStore) dbError(message string, err error) error {
	if s.dialect.isDuplicate(err) {
		return utils.WrapError(utils.ErrCodeDuplicate, message, err)
	}
	return utils.WrapError(utils.ErrCodeDatabase, message, err)
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Ping()
}

// InsertMedicine stores a medicine; an existing ledger id is a duplicate
func (s *sqlStore) InsertMedicine(ctx context.Context, m *models.Medicine) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := s.dialect.rebind(`
		INSERT INTO medicines (ledger_id, name, description, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		int64(m.LedgerID), m.Name, m.Description, string(m.Stage),
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	if err != nil {
		return s.dbError("Failed to insert medicine", err)
	}
	return nil
}

// GetMedicine returns the mirrored medicine or nil
func (s *sqlStore) GetMedicine(ctx context.Context, ledgerID uint64) (*models.Medicine, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := s.dialect.rebind(`
		SELECT ledger_id, name, description, stage, created_at, updated_at
		FROM medicines WHERE ledger_id = ?
	`)
	m, err := scanMedicine(s.db.QueryRowContext(ctx, query, int64(ledgerID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.dbError("Failed to get medicine", err)
	}
	return m, nil
}

// ListMedicines lists mirrored medicines by ledger id
func (s *sqlStore) ListMedicines(ctx context.Context, filter models.MedicineFilter) ([]*models.Medicine, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ledger_id, name, description, stage, created_at, updated_at FROM medicines`
	var args []interface{}
	if filter.Stage != nil {
		query += ` WHERE stage = ?`
		args = append(args, string(*filter.Stage))
	}
	query += ` ORDER BY ledger_id ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, s.dbError("Failed to list medicines", err)
	}
	defer rows.Close()

	medicines := make([]*models.Medicine, 0)
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, s.dbError("Failed to scan medicine", err)
		}
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbError("Failed to list medicines", err)
	}
	return medicines, nil
}

// UpdateMedicineStage refreshes the cached stage of a mirrored medicine
func (s *sqlStore) UpdateMedicineStage(ctx context.Context, ledgerID uint64, stage models.Stage, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	query := s.dialect.rebind(`UPDATE medicines SET stage = ?, updated_at = ? WHERE ledger_id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(stage), at.UnixMilli(), int64(ledgerID))
	if err != nil {
		return s.dbError("Failed to update medicine stage", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Medicine is not mirrored", strconv.FormatUint(ledgerID, 10))
	}
	return nil
}

// InsertTransaction stores a log entry; an existing hash is a duplicate
func (s *sqlStore) InsertTransaction(ctx context.Context, e *models.TransactionLogEntry) error {
	if err := s.ready(); err != nil {
		return err
	}

	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to marshal transaction details", err)
	}

	query := s.dialect.rebind(`
		INSERT INTO transactions (id, medicine_id, participant, action, tx_hash, details, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.ExecContext(ctx, query,
		e.ID, int64(e.MedicineID), e.Participant, string(e.Action), e.TransactionHash,
		string(detailsJSON), e.RecordedAt.UnixMilli())
	if err != nil {
		return s.dbError("Failed to insert transaction", err)
	}
	return nil
}

// GetTransactionByHash returns the log entry for txHash or nil
func (s *sqlStore) GetTransactionByHash(ctx context.Context, txHash string) (*models.TransactionLogEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := s.dialect.rebind(`
		SELECT id, medicine_id, participant, action, tx_hash, details, recorded_at
		FROM transactions WHERE tx_hash = ?
	`)
	e, err := scanTransaction(s.db.QueryRowContext(ctx, query, txHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.dbError("Failed to get transaction", err)
	}
	return e, nil
}

// ListTransactions lists log entries oldest first
func (s *sqlStore) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.TransactionLogEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT id, medicine_id, participant, action, tx_hash, details, recorded_at FROM transactions`
	var conds []string
	var args []interface{}
	if filter.MedicineID != nil {
		conds = append(conds, "medicine_id = ?")
		args = append(args, int64(*filter.MedicineID))
	}
	if filter.Action != nil {
		conds = append(conds, "action = ?")
		args = append(args, string(*filter.Action))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY recorded_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, s.dbError("Failed to list transactions", err)
	}
	defer rows.Close()

	entries := make([]*models.TransactionLogEntry, 0)
	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return nil, s.dbError("Failed to scan transaction", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbError("Failed to list transactions", err)
	}
	return entries, nil
}

// counts fills the row counts shared by every backend
func (s *sqlStore) counts(ctx context.Context, stats *StorageStats) error {
	var highest sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(ledger_id) FROM medicines`)
	if err := row.Scan(&stats.TotalMedicines, &highest); err != nil {
		return s.dbError("Failed to count medicines", err)
	}
	if highest.Valid {
		stats.HighestLedgerID = uint64(highest.Int64)
	}

	var latest sql.NullInt64
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(recorded_at) FROM transactions`)
	if err := row.Scan(&stats.TotalTransactions, &latest); err != nil {
		return s.dbError("Failed to count transactions", err)
	}
	if latest.Valid {
		t := time.UnixMilli(latest.Int64).UTC()
		stats.LatestRecordedAt = &t
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMedicine(row scanner) (*models.Medicine, error) {
	var (
		m                    models.Medicine
		ledgerID             int64
		stage                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&ledgerID, &m.Name, &m.Description, &stage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.LedgerID = uint64(ledgerID)
	m.Stage = models.Stage(stage)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &m, nil
}

func scanTransaction(row scanner) (*models.TransactionLogEntry, error) {
	var (
		e          models.TransactionLogEntry
		medicineID int64
		action     string
		details    []byte
		recordedAt int64
	)
	if err := row.Scan(&e.ID, &medicineID, &e.Participant, &action, &e.TransactionHash, &details, &recordedAt); err != nil {
		return nil, err
	}
	e.MedicineID = uint64(medicineID)
	e.Action = models.ActionKind(action)
	e.RecordedAt = time.UnixMilli(recordedAt).UTC()
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
