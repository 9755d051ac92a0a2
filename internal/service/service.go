package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"clinipay/backend/internal/cache"
	"clinipay/backend/internal/domain"
	"clinipay/backend/internal/engine"
	"clinipay/backend/internal/store"
	"clinipay/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	engine          *engine.Engine
	reports         cache.ReportCache
	defaultClinicID string
	reportTTL       time.Duration
}

func New(repo store.Repository, eng *engine.Engine, reports cache.ReportCache, defaultClinicID string, reportTTLSeconds int) *Service {
	if defaultClinicID == "" {
		defaultClinicID = "main-clinic"
	}
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTLSeconds < 1 {
		reportTTLSeconds = 30
	}

	return &Service{
		repo:            repo,
		engine:          eng,
		reports:         reports,
		defaultClinicID: defaultClinicID,
		reportTTL:       time.Duration(reportTTLSeconds) * time.Second,
	}
}

func (s *Service) ResolveFee(ctx context.Context, operator string, cardType string, installmentCount int) (domain.FeeRule, error) {
	rules, err := s.repo.ListFeeRules(ctx, true)
	if err != nil {
		return domain.FeeRule{}, err
	}
	rule, err := engine.ResolveFeeRule(rules, operator, cardType, installmentCount)
	if err != nil {
		return domain.FeeRule{}, err
	}
	return *rule, nil
}

func (s *Service) QuoteSettlement(ctx context.Context, req domain.SettlementQuoteRequest) (domain.NetSettlement, error) {
	rules, err := s.repo.ListFeeRules(ctx, true)
	if err != nil {
		return domain.NetSettlement{}, err
	}
	return s.engine.ComputeNetSettlement(rules, req.AmountCents, req.Method, req.InstallmentCount, req.CardOperator, req.CardType)
}

func (s *Service) SolvePrice(_ context.Context, req domain.PriceSolveRequest) (domain.PriceSolveResponse, error) {
	switch req.Mode {
	case domain.SolvePriceFromMarkup:
		price, err := engine.PriceFromMarkup(req.BaseCents, req.Percent)
		if err != nil {
			return domain.PriceSolveResponse{}, err
		}
		return domain.PriceSolveResponse{Mode: req.Mode, PriceCents: price, Percent: req.Percent}, nil
	case domain.SolveMarkupFromPrice:
		percent, err := engine.MarkupFromPrice(req.BaseCents, req.PriceCents)
		if err != nil {
			return domain.PriceSolveResponse{}, err
		}
		return domain.PriceSolveResponse{Mode: req.Mode, PriceCents: req.PriceCents, Percent: percent}, nil
	case domain.SolvePriceFromDiscount:
		price, clamped, err := engine.PriceFromDiscount(req.BaseCents, req.Percent)
		if err != nil {
			return domain.PriceSolveResponse{}, err
		}
		return domain.PriceSolveResponse{Mode: req.Mode, PriceCents: price, Percent: req.Percent, Clamped: clamped}, nil
	case domain.SolveDiscountFromPrice:
		percent, err := engine.DiscountFromPrice(req.BaseCents, req.PriceCents)
		if err != nil {
			return domain.PriceSolveResponse{}, err
		}
		return domain.PriceSolveResponse{Mode: req.Mode, PriceCents: req.PriceCents, Percent: percent}, nil
	default:
		return domain.PriceSolveResponse{}, store.ErrInvalidRecord
	}
}

func (s *Service) Profitability(ctx context.Context, req domain.ProfitabilityRequest) (domain.ProfitabilityResult, error) {
	feeRules, err := s.repo.ListFeeRules(ctx, true)
	if err != nil {
		return domain.ProfitabilityResult{}, err
	}
	costRules, err := s.repo.ListCostRules(ctx, true)
	if err != nil {
		return domain.ProfitabilityResult{}, err
	}
	return s.engine.ComputeProfitability(feeRules, costRules, req.PriceCents, req.Method, req.InstallmentCount, req.CardOperator, req.CardType, req.DirectCostCents)
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	if req.ClinicID == "" {
		req.ClinicID = s.defaultClinicID
	}
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.Procedure = strings.TrimSpace(req.Procedure)
	if req.PatientName == "" || req.TotalCents < 1 || len(req.Splits) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidRecord
	}

	saleDate := time.Now().UTC()
	if strings.TrimSpace(req.SaleDate) != "" {
		parsed, err := time.Parse("2006-01-02", req.SaleDate)
		if err != nil {
			return domain.SaleResponse{}, store.ErrInvalidRecord
		}
		saleDate = parsed.UTC()
	}

	if err := engine.ValidateSplits(req.Splits, req.TotalCents); err != nil {
		return domain.SaleResponse{}, err
	}

	rules, err := s.repo.ListFeeRules(ctx, true)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		ClinicID:        req.ClinicID,
		PatientName:     req.PatientName,
		Procedure:       req.Procedure,
		TotalCents:      req.TotalCents,
		DirectCostCents: req.DirectCostCents,
		SaleDate:        saleDate,
		Splits:          req.Splits,
		CreatedAt:       time.Now().UTC(),
	}

	settlements := make([]domain.NetSettlement, 0, len(req.Splits))
	installments := make([]domain.Installment, 0, 4)
	for _, split := range req.Splits {
		settlement, err := s.engine.ComputeNetSettlement(rules, split.AmountCents, split.Method, split.InstallmentCount, split.CardOperator, split.CardType)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		settlements = append(settlements, settlement)

		schedule, err := s.engine.GenerateSchedule(rules, split, saleDate)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		for _, inst := range schedule {
			inst.ID = xid.New("inst")
			inst.SaleID = sale.ID
			inst.ClinicID = sale.ClinicID
			inst.CreatedAt = sale.CreatedAt
			installments = append(installments, inst)
		}
	}

	created, err := s.repo.CreateSale(ctx, sale, installments)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, sale.ClinicID, "sale_create", "sale", created.ID, fmt.Sprintf("patient=%s,total=%d,splits=%d", created.PatientName, created.TotalCents, len(created.Splits)))

	return domain.SaleResponse{
		Sale:         *created,
		Settlements:  settlements,
		Installments: installments,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	installments, err := s.repo.ListInstallmentsBySale(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	rules, err := s.repo.ListFeeRules(ctx, true)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	settlements := make([]domain.NetSettlement, 0, len(sale.Splits))
	for _, split := range sale.Splits {
		settlement, err := s.engine.ComputeNetSettlement(rules, split.AmountCents, split.Method, split.InstallmentCount, split.CardOperator, split.CardType)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		settlements = append(settlements, settlement)
	}

	return domain.SaleResponse{
		Sale:         *sale,
		Settlements:  settlements,
		Installments: installments,
	}, nil
}

func (s *Service) ListSales(ctx context.Context, clinicID string, from string, to string, limit int) ([]domain.Sale, error) {
	if clinicID == "" {
		clinicID = s.defaultClinicID
	}
	fromDay, toDay, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, clinicID, fromDay, toDay, limit)
}

func (s *Service) ListSaleInstallments(ctx context.Context, saleID string) (domain.InstallmentListResponse, error) {
	if _, err := s.repo.GetSaleByID(ctx, saleID); err != nil {
		return domain.InstallmentListResponse{}, err
	}
	installments, err := s.repo.ListInstallmentsBySale(ctx, saleID)
	if err != nil {
		return domain.InstallmentListResponse{}, err
	}
	return domain.InstallmentListResponse{Installments: installments}, nil
}

func (s *Service) ListInstallments(ctx context.Context, clinicID string, from string, to string, status string) (domain.InstallmentListResponse, error) {
	if clinicID == "" {
		clinicID = s.defaultClinicID
	}
	if status != "" && status != domain.InstallmentPending && status != domain.InstallmentPaid && status != domain.InstallmentOverdue {
		return domain.InstallmentListResponse{}, store.ErrInvalidRecord
	}
	fromDay, toDay, err := parseRange(from, to)
	if err != nil {
		return domain.InstallmentListResponse{}, err
	}

	installments, err := s.repo.ListInstallmentsByDueRange(ctx, clinicID, fromDay, toDay, status)
	if err != nil {
		return domain.InstallmentListResponse{}, err
	}
	return domain.InstallmentListResponse{Installments: installments}, nil
}

// UpdateInstallmentStatus moves a pending installment to paid or overdue.
// Manager PIN verification happens at the HTTP layer before this is called.
func (s *Service) UpdateInstallmentStatus(ctx context.Context, installmentID string, req domain.InstallmentStatusRequest) (domain.Installment, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Installment{}, store.ErrInvalidRecord
	}

	updated, err := s.repo.UpdateInstallmentStatus(ctx, installmentID, req.Status, time.Now().UTC())
	if err != nil {
		return domain.Installment{}, err
	}

	s.logAudit(ctx, updated.ClinicID, "installment_status", "installment", updated.ID, fmt.Sprintf("status=%s,reason=%s", updated.Status, reason))
	return *updated, nil
}

func (s *Service) CreateFeeRule(ctx context.Context, req domain.FeeRuleCreateRequest) (domain.FeeRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.FeeRule{}, fmt.Errorf("admin role required")
	}

	rule := domain.FeeRule{
		Operator:         strings.TrimSpace(req.Operator),
		CardType:         strings.ToLower(strings.TrimSpace(req.CardType)),
		InstallmentCount: req.InstallmentCount,
		FeePercent:       req.FeePercent,
		ReceivingDays:    req.ReceivingDays,
	}
	created, err := s.repo.CreateFeeRule(ctx, rule)
	if err != nil {
		return domain.FeeRule{}, err
	}

	s.logAudit(ctx, "", "fee_rule_create", "fee_rule", created.ID, fmt.Sprintf("operator=%s,card=%s,count=%d,percent=%.2f", created.Operator, created.CardType, created.InstallmentCount, created.FeePercent))
	return *created, nil
}

func (s *Service) ListFeeRules(ctx context.Context, activeOnly bool) ([]domain.FeeRule, error) {
	return s.repo.ListFeeRules(ctx, activeOnly)
}

func (s *Service) SetFeeRuleActive(ctx context.Context, ruleID string, active bool) (domain.FeeRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.FeeRule{}, fmt.Errorf("admin role required")
	}

	updated, err := s.repo.SetFeeRuleActive(ctx, ruleID, active)
	if err != nil {
		return domain.FeeRule{}, err
	}

	s.logAudit(ctx, "", "fee_rule_toggle", "fee_rule", updated.ID, fmt.Sprintf("active=%t", updated.Active))
	return *updated, nil
}

func (s *Service) CreateCostRule(ctx context.Context, req domain.CostRuleCreateRequest) (domain.VariableCostRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.VariableCostRule{}, fmt.Errorf("admin role required")
	}

	rule := domain.VariableCostRule{
		Category: strings.ToLower(strings.TrimSpace(req.Category)),
		Name:     strings.TrimSpace(req.Name),
		Percent:  req.Percent,
	}
	created, err := s.repo.CreateCostRule(ctx, rule)
	if err != nil {
		return domain.VariableCostRule{}, err
	}

	s.logAudit(ctx, "", "cost_rule_create", "cost_rule", created.ID, fmt.Sprintf("category=%s,name=%s,percent=%.2f", created.Category, created.Name, created.Percent))
	return *created, nil
}

func (s *Service) ListCostRules(ctx context.Context, activeOnly bool) ([]domain.VariableCostRule, error) {
	return s.repo.ListCostRules(ctx, activeOnly)
}

func (s *Service) SetCostRuleActive(ctx context.Context, ruleID string, active bool) (domain.VariableCostRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.VariableCostRule{}, fmt.Errorf("admin role required")
	}

	updated, err := s.repo.SetCostRuleActive(ctx, ruleID, active)
	if err != nil {
		return domain.VariableCostRule{}, err
	}

	s.logAudit(ctx, "", "cost_rule_toggle", "cost_rule", updated.ID, fmt.Sprintf("active=%t", updated.Active))
	return *updated, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	if req.ClinicID == "" {
		req.ClinicID = s.defaultClinicID
	}

	dueDate, err := time.Parse("2006-01-02", strings.TrimSpace(req.DueDate))
	if err != nil {
		return domain.Expense{}, store.ErrInvalidRecord
	}

	expense := domain.Expense{
		ID:          xid.New("exp"),
		ClinicID:    req.ClinicID,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		AmountCents: req.AmountCents,
		DueDate:     dueDate.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, expense.ClinicID, "expense_create", "expense", created.ID, fmt.Sprintf("category=%s,amount=%d,due=%s", created.Category, created.AmountCents, created.DueDate.Format("2006-01-02")))
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, clinicID string, from string, to string) (domain.ExpenseListResponse, error) {
	if clinicID == "" {
		clinicID = s.defaultClinicID
	}
	fromDay, toDay, err := parseRange(from, to)
	if err != nil {
		return domain.ExpenseListResponse{}, err
	}

	expenses, err := s.repo.ListExpensesByDueRange(ctx, clinicID, fromDay, toDay)
	if err != nil {
		return domain.ExpenseListResponse{}, err
	}
	return domain.ExpenseListResponse{Expenses: expenses}, nil
}

// CashFlowReport projects pending receivables against expenses over a date
// range. Reports are cached briefly; the projection itself is deterministic so
// a cached copy is indistinguishable from a fresh one within the TTL.
func (s *Service) CashFlowReport(ctx context.Context, clinicID string, from string, to string) (domain.CashFlowReport, error) {
	if clinicID == "" {
		clinicID = s.defaultClinicID
	}
	fromDay, toDay, err := parseRange(from, to)
	if err != nil {
		return domain.CashFlowReport{}, err
	}
	if fromDay.After(toDay) {
		return domain.CashFlowReport{}, engine.ErrInvalidPeriod
	}

	cacheKey := fmt.Sprintf("cashflow:%s:%s:%s", clinicID, fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	if cached, ok, err := s.reports.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: report cache read failed key=%s: %v", cacheKey, err)
	}

	installments, err := s.repo.ListInstallmentsByDueRange(ctx, clinicID, fromDay, toDay, domain.InstallmentPending)
	if err != nil {
		return domain.CashFlowReport{}, err
	}
	expenses, err := s.repo.ListExpensesByDueRange(ctx, clinicID, fromDay, toDay)
	if err != nil {
		return domain.CashFlowReport{}, err
	}

	report, err := engine.ProjectCashFlow(clinicID, fromDay, toDay, installments, expenses)
	if err != nil {
		return domain.CashFlowReport{}, err
	}

	if err := s.reports.Set(ctx, cacheKey, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache write failed key=%s: %v", cacheKey, err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, clinicID string, date string, limit int) ([]domain.AuditLog, error) {
	if clinicID == "" {
		clinicID = s.defaultClinicID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRecord
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, clinicID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, clinicID string, action string, entityType string, entityID string, detail string) {
	if clinicID == "" {
		clinicID = s.defaultClinicID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ClinicID:      clinicID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// parseRange parses an inclusive yyyy-mm-dd date range, defaulting to the
// next 30 days when both bounds are empty.
func parseRange(from string, to string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	fromDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	toDay := fromDay.AddDate(0, 0, 30)

	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrInvalidRecord
		}
		fromDay = parsed.UTC()
	}
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrInvalidRecord
		}
		toDay = parsed.UTC()
	}
	return fromDay, toDay, nil
}
