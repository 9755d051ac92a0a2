package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"clinipay/backend/internal/domain"
	"clinipay/backend/internal/store"
	"clinipay/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	feeRulesByID     map[string]domain.FeeRule
	costRulesByID    map[string]domain.VariableCostRule
	salesByID        map[string]domain.Sale
	installmentsByID map[string]domain.Installment
	expensesByID     map[string]domain.Expense
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	feeRules := []domain.FeeRule{
		{ID: "fee-rede-debit-1", Operator: "Rede", CardType: domain.CardTypeDebit, InstallmentCount: 1, FeePercent: 1.5, ReceivingDays: 1, Active: true, CreatedAt: now},
		{ID: "fee-rede-credit-1", Operator: "Rede", CardType: domain.CardTypeCredit, InstallmentCount: 1, FeePercent: 2.5, ReceivingDays: 30, Active: true, CreatedAt: now},
		{ID: "fee-rede-credit-3", Operator: "Rede", CardType: domain.CardTypeCredit, InstallmentCount: 3, FeePercent: 3.2, ReceivingDays: 30, Active: true, CreatedAt: now},
		{ID: "fee-rede-credit-6", Operator: "Rede", CardType: domain.CardTypeCredit, InstallmentCount: 6, FeePercent: 3.9, ReceivingDays: 30, Active: true, CreatedAt: now},
		{ID: "fee-cielo-debit-1", Operator: "Cielo", CardType: domain.CardTypeDebit, InstallmentCount: 1, FeePercent: 1.7, ReceivingDays: 1, Active: true, CreatedAt: now},
		{ID: "fee-cielo-credit-1", Operator: "Cielo", CardType: domain.CardTypeCredit, InstallmentCount: 1, FeePercent: 2.8, ReceivingDays: 31, Active: true, CreatedAt: now},
		{ID: "fee-cielo-credit-3", Operator: "Cielo", CardType: domain.CardTypeCredit, InstallmentCount: 3, FeePercent: 3.6, ReceivingDays: 31, Active: true, CreatedAt: now},
		{ID: "fee-stone-credit-1", Operator: "Stone", CardType: domain.CardTypeCredit, InstallmentCount: 1, FeePercent: 2.3, ReceivingDays: 30, Active: true, CreatedAt: now},
		{ID: "fee-stone-credit-12", Operator: "Stone", CardType: domain.CardTypeCredit, InstallmentCount: 12, FeePercent: 5.1, ReceivingDays: 30, Active: true, CreatedAt: now},
		{ID: "fee-pagseguro-credit-1", Operator: "PagSeguro", CardType: domain.CardTypeCredit, InstallmentCount: 1, FeePercent: 3.1, ReceivingDays: 14, Active: true, CreatedAt: now},
	}

	costRules := []domain.VariableCostRule{
		{ID: "cost-simples", Category: domain.CostCategoryTax, Name: "Simples Nacional", Percent: 6, Active: true, CreatedAt: now},
		{ID: "cost-dentist", Category: domain.CostCategoryCommission, Name: "Dentist commission", Percent: 10, Active: true, CreatedAt: now},
	}

	feeMap := make(map[string]domain.FeeRule, len(feeRules))
	for _, rule := range feeRules {
		feeMap[rule.ID] = rule
	}
	costMap := make(map[string]domain.VariableCostRule, len(costRules))
	for _, rule := range costRules {
		costMap[rule.ID] = rule
	}

	return &Store{
		feeRulesByID:     feeMap,
		costRulesByID:    costMap,
		salesByID:        make(map[string]domain.Sale),
		installmentsByID: make(map[string]domain.Installment),
		expensesByID:     make(map[string]domain.Expense),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) CreateFeeRule(_ context.Context, rule domain.FeeRule) (*domain.FeeRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.Operator = strings.TrimSpace(rule.Operator)
	if rule.Operator == "" || rule.InstallmentCount < 1 || rule.FeePercent < 0 || rule.ReceivingDays < 0 {
		return nil, store.ErrInvalidRecord
	}
	if rule.CardType != domain.CardTypeCredit && rule.CardType != domain.CardTypeDebit {
		return nil, store.ErrInvalidRecord
	}
	for _, existing := range s.feeRulesByID {
		if existing.Active && sameFeeRuleKey(existing, rule) {
			return nil, store.ErrDuplicateFeeRule
		}
	}

	if rule.ID == "" {
		rule.ID = xid.New("fee")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.Active = true
	s.feeRulesByID[rule.ID] = rule
	created := rule
	return &created, nil
}

func (s *Store) ListFeeRules(_ context.Context, activeOnly bool) ([]domain.FeeRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.FeeRule, 0, len(s.feeRulesByID))
	for _, rule := range s.feeRulesByID {
		if activeOnly && !rule.Active {
			continue
		}
		rules = append(rules, rule)
	}

	slices.SortFunc(rules, func(a, b domain.FeeRule) int {
		if a.Operator != b.Operator {
			return cmpString(a.Operator, b.Operator)
		}
		if a.CardType != b.CardType {
			return cmpString(a.CardType, b.CardType)
		}
		if a.InstallmentCount != b.InstallmentCount {
			return a.InstallmentCount - b.InstallmentCount
		}
		return cmpString(a.ID, b.ID)
	})
	return rules, nil
}

func (s *Store) SetFeeRuleActive(_ context.Context, ruleID string, active bool) (*domain.FeeRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.feeRulesByID[ruleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if active && !rule.Active {
		for _, existing := range s.feeRulesByID {
			if existing.ID != rule.ID && existing.Active && sameFeeRuleKey(existing, rule) {
				return nil, store.ErrDuplicateFeeRule
			}
		}
	}
	rule.Active = active
	s.feeRulesByID[ruleID] = rule
	updated := rule
	return &updated, nil
}

func (s *Store) CreateCostRule(_ context.Context, rule domain.VariableCostRule) (*domain.VariableCostRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	s.costRulesByID[rule.ID] = rule
	created := rule
	return &created, nil
}

func (s *Store) ListCostRules(_ context.Context, activeOnly bool) ([]domain.VariableCostRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.VariableCostRule, 0, len(s.costRulesByID))
	for _, rule := range s.costRulesByID {
		if activeOnly && !rule.Active {
			continue
		}
		rules = append(rules, rule)
	}

	slices.SortFunc(rules, func(a, b domain.VariableCostRule) int {
		if a.Category != b.Category {
			return cmpString(a.Category, b.Category)
		}
		if a.Name != b.Name {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.ID, b.ID)
	})
	return rules, nil
}

func (s *Store) SetCostRuleActive(_ context.Context, ruleID string, active bool) (*domain.VariableCostRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.costRulesByID[ruleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	rule.Active = active
	s.costRulesByID[ruleID] = rule
	updated := rule
	return &updated, nil
}

// CreateSale persists the sale and its full installment schedule atomically:
// either everything lands or nothing does.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, installments []domain.Installment) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.ClinicID == "" || sale.TotalCents < 1 || len(sale.Splits) == 0 {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrInvalidRecord
	}
	for _, inst := range installments {
		if inst.ID == "" || inst.SaleID != sale.ID {
			return nil, store.ErrInvalidRecord
		}
		if _, exists := s.installmentsByID[inst.ID]; exists {
			return nil, store.ErrInvalidRecord
		}
	}

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Splits = slices.Clone(sale.Splits)
	s.salesByID[sale.ID] = sale
	for _, inst := range installments {
		if inst.CreatedAt.IsZero() {
			inst.CreatedAt = sale.CreatedAt
		}
		s.installmentsByID[inst.ID] = inst
	}
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSaleByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := cloneSale(sale)
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, clinicID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if clinicID != "" && sale.ClinicID != clinicID {
			continue
		}
		if sale.SaleDate.Before(from) || sale.SaleDate.After(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.SaleDate.Equal(b.SaleDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.SaleDate.After(b.SaleDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListInstallmentsBySale(_ context.Context, saleID string) ([]domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Installment, 0, 12)
	for _, inst := range s.installmentsByID {
		if inst.SaleID != saleID {
			continue
		}
		result = append(result, inst)
	}

	slices.SortFunc(result, compareInstallments)
	return result, nil
}

func (s *Store) ListInstallmentsByDueRange(_ context.Context, clinicID string, from time.Time, to time.Time, status string) ([]domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Installment, 0, 64)
	for _, inst := range s.installmentsByID {
		if clinicID != "" && inst.ClinicID != clinicID {
			continue
		}
		if inst.DueDate.Before(from) || inst.DueDate.After(to) {
			continue
		}
		if status != "" && inst.Status != status {
			continue
		}
		result = append(result, inst)
	}

	slices.SortFunc(result, compareInstallments)
	return result, nil
}

// UpdateInstallmentStatus enforces the one-way lifecycle: only pending
// installments move, and only to paid or overdue.
func (s *Store) UpdateInstallmentStatus(_ context.Context, installmentID string, status string, at time.Time) (*domain.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status != domain.InstallmentPaid && status != domain.InstallmentOverdue {
		return nil, store.ErrInvalidRecord
	}
	inst, exists := s.installmentsByID[installmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if inst.Status != domain.InstallmentPending {
		return nil, store.ErrInvalidRecord
	}

	inst.Status = status
	if status == domain.InstallmentPaid {
		paidAt := at
		inst.PaidAt = &paidAt
	}
	s.installmentsByID[installmentID] = inst
	updated := inst
	return &updated, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpensesByDueRange(_ context.Context, clinicID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, 64)
	for _, expense := range s.expensesByID {
		if clinicID != "" && expense.ClinicID != clinicID {
			continue
		}
		if expense.DueDate.Before(from) || expense.DueDate.After(to) {
			continue
		}
		result = append(result, expense)
	}

	slices.SortFunc(result, func(a, b domain.Expense) int {
		if a.DueDate.Equal(b.DueDate) {
			return cmpString(a.ID, b.ID)
		}
		if a.DueDate.Before(b.DueDate) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, clinicID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if clinicID != "" && entry.ClinicID != clinicID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sameFeeRuleKey(a domain.FeeRule, b domain.FeeRule) bool {
	return strings.EqualFold(a.Operator, b.Operator) &&
		strings.EqualFold(a.CardType, b.CardType) &&
		a.InstallmentCount == b.InstallmentCount
}

func compareInstallments(a domain.Installment, b domain.Installment) int {
	if !a.DueDate.Equal(b.DueDate) {
		if a.DueDate.Before(b.DueDate) {
			return -1
		}
		return 1
	}
	if a.SaleID != b.SaleID {
		return cmpString(a.SaleID, b.SaleID)
	}
	if a.Sequence != b.Sequence {
		return a.Sequence - b.Sequence
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src domain.Sale) domain.Sale {
	copySale := src
	copySale.Splits = slices.Clone(src.Splits)
	return copySale
}
