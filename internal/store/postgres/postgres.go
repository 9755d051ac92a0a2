package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"clinipay/backend/internal/domain"
	"clinipay/backend/internal/store"
	"clinipay/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateFeeRule(ctx context.Context, rule domain.FeeRule) (*domain.FeeRule, error) {
	rule.Operator = strings.TrimSpace(rule.Operator)
	if rule.Operator == "" || rule.InstallmentCount < 1 || rule.FeePercent < 0 || rule.ReceivingDays < 0 {
		return nil, store.ErrInvalidRecord
	}
	if rule.CardType != domain.CardTypeCredit && rule.CardType != domain.CardTypeDebit {
		return nil, store.ErrInvalidRecord
	}
	if rule.ID == "" {
		rule.ID = xid.New("fee")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.Active = true

	// Partial unique index on (lower(operator), card_type, installment_count)
	// WHERE active guards the one-active-rule-per-key invariant.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_rules (id, operator, card_type, installment_count, fee_percent, receiving_days, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rule.ID, rule.Operator, rule.CardType, rule.InstallmentCount, rule.FeePercent, rule.ReceivingDays, rule.Active, rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateFeeRule
		}
		return nil, err
	}

	created := rule
	return &created, nil
}

func (s *Store) ListFeeRules(ctx context.Context, activeOnly bool) ([]domain.FeeRule, error) {
	query := `
		SELECT id, operator, card_type, installment_count, fee_percent, receiving_days, active, created_at
		FROM fee_rules
		ORDER BY operator, card_type, installment_count, id
	`
	if activeOnly {
		query = `
			SELECT id, operator, card_type, installment_count, fee_percent, receiving_days, active, created_at
			FROM fee_rules
			WHERE active = true
			ORDER BY operator, card_type, installment_count, id
		`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.FeeRule, 0, 64)
	for rows.Next() {
		var rule domain.FeeRule
		if err := rows.Scan(&rule.ID, &rule.Operator, &rule.CardType, &rule.InstallmentCount, &rule.FeePercent, &rule.ReceivingDays, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.CreatedAt = rule.CreatedAt.UTC()
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) SetFeeRuleActive(ctx context.Context, ruleID string, active bool) (*domain.FeeRule, error) {
	var rule domain.FeeRule
	err := s.db.QueryRowContext(ctx, `
		UPDATE fee_rules
		SET active = $2
		WHERE id = $1
		RETURNING id, operator, card_type, installment_count, fee_percent, receiving_days, active, created_at
	`, ruleID, active).Scan(&rule.ID, &rule.Operator, &rule.CardType, &rule.InstallmentCount, &rule.FeePercent, &rule.ReceivingDays, &rule.Active, &rule.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateFeeRule
		}
		return nil, err
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	return &rule, nil
}

func (s *Store) CreateCostRule(ctx context.Context, rule domain.VariableCostRule) (*domain.VariableCostRule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" || rule.Percent < 0 || rule.Percent > 100 {
		return nil, store.ErrInvalidRecord
	}
	if rule.Category != domain.CostCategoryTax && rule.Category != domain.CostCategoryCommission {
		return nil, store.ErrInvalidRecord
	}
	if rule.ID == "" {
		rule.ID = xid.New("cost")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variable_cost_rules (id, category, name, percent, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rule.ID, rule.Category, rule.Name, rule.Percent, rule.Active, rule.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := rule
	return &created, nil
}

func (s *Store) ListCostRules(ctx context.Context, activeOnly bool) ([]domain.VariableCostRule, error) {
	query := `
		SELECT id, category, name, percent, active, created_at
		FROM variable_cost_rules
		ORDER BY category, name, id
	`
	if activeOnly {
		query = `
			SELECT id, category, name, percent, active, created_at
			FROM variable_cost_rules
			WHERE active = true
			ORDER BY category, name, id
		`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.VariableCostRule, 0, 16)
	for rows.Next() {
		var rule domain.VariableCostRule
		if err := rows.Scan(&rule.ID, &rule.Category, &rule.Name, &rule.Percent, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.CreatedAt = rule.CreatedAt.UTC()
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) SetCostRuleActive(ctx context.Context, ruleID string, active bool) (*domain.VariableCostRule, error) {
	var rule domain.VariableCostRule
	err := s.db.QueryRowContext(ctx, `
		UPDATE variable_cost_rules
		SET active = $2
		WHERE id = $1
		RETURNING id, category, name, percent, active, created_at
	`, ruleID, active).Scan(&rule.ID, &rule.Category, &rule.Name, &rule.Percent, &rule.Active, &rule.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	return &rule, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, installments []domain.Installment) (*domain.Sale, error) {
	if sale.ID == "" || sale.ClinicID == "" || sale.TotalCents < 1 || len(sale.Splits) == 0 {
		return nil, store.ErrInvalidRecord
	}
	for _, inst := range installments {
		if inst.ID == "" || inst.SaleID != sale.ID {
			return nil, store.ErrInvalidRecord
		}
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, clinic_id, patient_name, procedure, total_cents, direct_cost_cents, sale_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.ClinicID, sale.PatientName, sale.Procedure, sale.TotalCents, sale.DirectCostCents, sale.SaleDate, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	for i, split := range sale.Splits {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_splits (sale_id, position, method, amount_cents, installment_count, card_operator, card_type)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i, split.Method, split.AmountCents, split.InstallmentCount, nullIfEmpty(split.CardOperator), nullIfEmpty(split.CardType))
		if err != nil {
			return nil, err
		}
	}

	for _, inst := range installments {
		if inst.CreatedAt.IsZero() {
			inst.CreatedAt = sale.CreatedAt
		}
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO installments (id, sale_id, clinic_id, method, sequence, amount_cents, due_date, status, paid_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, inst.ID, inst.SaleID, inst.ClinicID, inst.Method, inst.Sequence, inst.AmountCents, inst.DueDate, inst.Status, nullTime(inst.PaidAt), inst.CreatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, clinic_id, patient_name, procedure, total_cents, direct_cost_cents, sale_date, created_at
		FROM sales
		WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.ClinicID, &sale.PatientName, &sale.Procedure, &sale.TotalCents, &sale.DirectCostCents, &sale.SaleDate, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleDate = sale.SaleDate.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()

	splits, err := s.listSplits(ctx, saleID)
	if err != nil {
		return nil, err
	}
	sale.Splits = splits
	return &sale, nil
}

func (s *Store) listSplits(ctx context.Context, saleID string) ([]domain.PaymentSplit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_cents, installment_count, COALESCE(card_operator, ''), COALESCE(card_type, '')
		FROM sale_splits
		WHERE sale_id = $1
		ORDER BY position
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	splits := make([]domain.PaymentSplit, 0, 4)
	for rows.Next() {
		var split domain.PaymentSplit
		if err := rows.Scan(&split.Method, &split.AmountCents, &split.InstallmentCount, &split.CardOperator, &split.CardType); err != nil {
			return nil, err
		}
		splits = append(splits, split)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return splits, nil
}

func (s *Store) ListSales(ctx context.Context, clinicID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, clinic_id, patient_name, procedure, total_cents, direct_cost_cents, sale_date, created_at
		FROM sales
		WHERE ($1 = '' OR clinic_id = $1) AND sale_date >= $2 AND sale_date <= $3
		ORDER BY sale_date DESC, id
		LIMIT $4
	`, clinicID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.ClinicID, &sale.PatientName, &sale.Procedure, &sale.TotalCents, &sale.DirectCostCents, &sale.SaleDate, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		splits, err := s.listSplits(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Splits = splits
	}
	return sales, nil
}

func (s *Store) ListInstallmentsBySale(ctx context.Context, saleID string) ([]domain.Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, clinic_id, method, sequence, amount_cents, due_date, status, paid_at, created_at
		FROM installments
		WHERE sale_id = $1
		ORDER BY due_date, sequence, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (s *Store) ListInstallmentsByDueRange(ctx context.Context, clinicID string, from time.Time, to time.Time, status string) ([]domain.Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, clinic_id, method, sequence, amount_cents, due_date, status, paid_at, created_at
		FROM installments
		WHERE ($1 = '' OR clinic_id = $1)
		  AND due_date >= $2 AND due_date <= $3
		  AND ($4 = '' OR status = $4)
		ORDER BY due_date, sale_id, sequence, id
	`, clinicID, from, to, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (s *Store) UpdateInstallmentStatus(ctx context.Context, installmentID string, status string, at time.Time) (*domain.Installment, error) {
	if status != domain.InstallmentPaid && status != domain.InstallmentOverdue {
		return nil, store.ErrInvalidRecord
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var current string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM installments
		WHERE id = $1
		FOR UPDATE
	`, installmentID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if current != domain.InstallmentPending {
		return nil, store.ErrInvalidRecord
	}

	var paidAt any
	if status == domain.InstallmentPaid {
		paidAt = at
	}

	var inst domain.Installment
	var paid sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		UPDATE installments
		SET status = $2, paid_at = $3
		WHERE id = $1
		RETURNING id, sale_id, clinic_id, method, sequence, amount_cents, due_date, status, paid_at, created_at
	`, installmentID, status, paidAt).Scan(&inst.ID, &inst.SaleID, &inst.ClinicID, &inst.Method, &inst.Sequence, &inst.AmountCents, &inst.DueDate, &inst.Status, &paid, &inst.CreatedAt)
	if err != nil {
		return nil, err
	}
	if paid.Valid {
		paidTime := paid.Time.UTC()
		inst.PaidAt = &paidTime
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	inst.DueDate = inst.DueDate.UTC()
	inst.CreatedAt = inst.CreatedAt.UTC()
	return &inst, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	expense.Category = strings.TrimSpace(expense.Category)
	if expense.ClinicID == "" || expense.Category == "" || expense.AmountCents < 1 || expense.DueDate.IsZero() {
		return nil, store.ErrInvalidRecord
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, clinic_id, category, description, amount_cents, due_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.ClinicID, expense.Category, expense.Description, expense.AmountCents, expense.DueDate, expense.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) ListExpensesByDueRange(ctx context.Context, clinicID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, clinic_id, category, description, amount_cents, due_date, created_at
		FROM expenses
		WHERE ($1 = '' OR clinic_id = $1) AND due_date >= $2 AND due_date <= $3
		ORDER BY due_date, id
	`, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 64)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.ClinicID, &expense.Category, &expense.Description, &expense.AmountCents, &expense.DueDate, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.DueDate = expense.DueDate.UTC()
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, clinic_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ClinicID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, clinicID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, clinic_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR clinic_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, clinicID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ClinicID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanInstallments(rows *sql.Rows) ([]domain.Installment, error) {
	installments := make([]domain.Installment, 0, 64)
	for rows.Next() {
		var inst domain.Installment
		var paid sql.NullTime
		if err := rows.Scan(&inst.ID, &inst.SaleID, &inst.ClinicID, &inst.Method, &inst.Sequence, &inst.AmountCents, &inst.DueDate, &inst.Status, &paid, &inst.CreatedAt); err != nil {
			return nil, err
		}
		if paid.Valid {
			paidTime := paid.Time.UTC()
			inst.PaidAt = &paidTime
		}
		inst.DueDate = inst.DueDate.UTC()
		inst.CreatedAt = inst.CreatedAt.UTC()
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return installments, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
