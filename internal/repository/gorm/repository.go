package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stocktrader/internal/models"
	"stocktrader/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Ledger ------------------------------------------------------------------

func (s *Store) EnsureLedger(ctx context.Context, initial decimal.Decimal) (*models.Ledger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Ledger
	err := s.db.WithContext(ctx).Order("id asc").First(&item).Error
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	item = models.Ledger{CashBalance: initial}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLedger(ctx context.Context) (*models.Ledger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Ledger
	err := s.db.WithContext(ctx).Order("id asc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLedgerForUpdateTx(ctx context.Context, tx *gorm.DB) (*models.Ledger, error) {
	if tx == nil {
		return nil, errors.New("ledger lock requires a transaction")
	}
	var item models.Ledger
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order("id asc").
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveLedgerTx(ctx context.Context, tx *gorm.DB, item *models.Ledger) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

// --- Positions ---------------------------------------------------------------

func (s *Store) GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return getPositionBySymbol(ctx, s.db, symbol)
}

func (s *Store) GetPositionBySymbolTx(ctx context.Context, tx *gorm.DB, symbol string) (*models.Position, error) {
	if tx == nil {
		return nil, nil
	}
	return getPositionBySymbol(ctx, tx, symbol)
}

func getPositionBySymbol(ctx context.Context, db *gorm.DB, symbol string) (*models.Position, error) {
	var item models.Position
	err := db.WithContext(ctx).Where("symbol = ?", strings.TrimSpace(symbol)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	if err := s.db.WithContext(ctx).Order("symbol asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

func (s *Store) DeletePositionTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	if tx == nil || id == 0 {
		return nil
	}
	return tx.WithContext(ctx).Delete(&models.Position{}, id).Error
}

func (s *Store) UpdatePositionPrice(ctx context.Context, symbol string, price, unrealizedPnL decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Position{}).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Updates(map[string]any{
			"current_price":  price,
			"unrealized_pnl": unrealizedPnL,
		}).Error
}

// --- Trades ------------------------------------------------------------------

func (s *Store) InsertTradeTx(ctx context.Context, tx *gorm.DB, item *models.Trade) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Trade{})
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.ToUpper(strings.TrimSpace(*params.Action)))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("executed_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "executed_at")
	var items []models.Trade
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountBuyTradesSince(ctx context.Context, symbol string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("symbol = ? AND action = ? AND executed_at >= ?", strings.TrimSpace(symbol), models.ActionBuy, since).
		Count(&count).Error
	return count, err
}

// --- Decisions ---------------------------------------------------------------

func (s *Store) InsertDecision(ctx context.Context, item *models.Decision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetDecisionByID(ctx context.Context, id uint64) (*models.Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Decision
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLatestDecisionBySymbol(ctx context.Context, symbol string) (*models.Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Decision
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Order("created_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Decision{})
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Executed != nil {
		query = query.Where("executed = ?", *params.Executed)
	}
	if params.Source != nil && strings.TrimSpace(*params.Source) != "" {
		query = query.Where("source = ?", strings.TrimSpace(*params.Source))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Decision
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActionableDecisions(ctx context.Context, limit int) ([]models.Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Decision
	err := s.db.WithContext(ctx).
		Where("executed = ? AND requires_manual_review = ?", false, false).
		Where("validation_decision IN ?", []string{
			models.ValidationProceed,
			models.ValidationModify,
			models.ValidationManualOK,
		}).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPendingReviewDecisions(ctx context.Context) ([]models.Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Decision
	err := s.db.WithContext(ctx).
		Where("requires_manual_review = ? AND executed = ?", true, false).
		Where("validation_decision IN ?", []string{
			models.ValidationProceed,
			models.ValidationModify,
		}).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) HasOpenDecision(ctx context.Context, symbol string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Decision{}).
		Where("symbol = ? AND executed = ?", strings.TrimSpace(symbol), false).
		Where("validation_decision IS NULL OR validation_decision IN ?", []string{
			models.ValidationProceed,
			models.ValidationModify,
			models.ValidationManualOK,
		}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) UpdateDecisionValidation(ctx context.Context, id uint64, update repository.ValidationUpdate) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	now := time.Now().UTC()
	values := map[string]any{
		"validation_decision": update.Decision,
		"validation_comments": update.Comments,
		"validated_at":        now,
	}
	if update.RevisedConfidence != nil {
		values["revised_confidence"] = *update.RevisedConfidence
	}
	if update.RevisedSizePct != nil {
		values["revised_size_pct"] = *update.RevisedSizePct
	}
	return s.db.WithContext(ctx).Model(&models.Decision{}).Where("id = ?", id).Updates(values).Error
}

func (s *Store) SetDecisionManualReview(ctx context.Context, id uint64, deadline *time.Time, required bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Decision{}).Where("id = ?", id).Updates(map[string]any{
		"requires_manual_review": required,
		"review_deadline":        deadline,
	}).Error
}

func (s *Store) MarkDecisionExecuted(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	return markDecisionExecuted(ctx, s.db, id)
}

func (s *Store) MarkDecisionExecutedTx(ctx context.Context, tx *gorm.DB, id uint64) (bool, error) {
	if tx == nil {
		return false, nil
	}
	return markDecisionExecuted(ctx, tx, id)
}

// markDecisionExecuted is the executed=false -> true compare-and-set that
// backs the at-most-one-execution invariant.
func markDecisionExecuted(ctx context.Context, db *gorm.DB, id uint64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := db.WithContext(ctx).Model(&models.Decision{}).
		Where("id = ? AND executed = ?", id, false).
		Update("executed", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) TimeoutDecision(ctx context.Context, id uint64, comments string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Decision{}).
		Where("id = ? AND executed = ?", id, false).
		Updates(map[string]any{
			"validation_decision": models.ValidationTimeout,
			"validation_comments": comments,
		}).Error
}

// --- Portfolio snapshots -----------------------------------------------------

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("created_at <= ?", *params.Until)
	}
	var items []models.PortfolioSnapshot
	err := query.Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers -----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	dir := "desc"
	if asc != nil && *asc {
		dir = "asc"
	}
	return query.Order(column + " " + dir)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
