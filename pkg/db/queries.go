package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrUserIDRequired      = errors.New("user id is required")
	ErrEmailTaken          = errors.New("email already registered")
	ErrFaucetCooldown      = errors.New("faucet already claimed within cooldown")
	ErrPositionClosed      = errors.New("position is not open")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Store exposes the ledger operations. Logical operations that touch more
// than one row run inside a single transaction.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over an opened database.
func NewStore(d *Database) *Store {
	return &Store{db: d.DB}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- users ----

// CreateUser inserts a new account. The email must be unique.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail looks an account up for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = ?`, email))
}

// GetUser looks an account up by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserIDRequired
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = ?`, id))
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ---- tokens ----

// UpsertTokens refreshes the cached token listing.
func (s *Store) UpsertTokens(ctx context.Context, tokens []Token) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tokens {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tokens (id, symbol, name, image, current_price, price_change_24h, volume_24h, market_cap, is_pinned, last_updated)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					symbol = excluded.symbol,
					name = excluded.name,
					image = excluded.image,
					current_price = excluded.current_price,
					price_change_24h = excluded.price_change_24h,
					volume_24h = excluded.volume_24h,
					market_cap = excluded.market_cap,
					is_pinned = excluded.is_pinned,
					last_updated = excluded.last_updated`,
				t.ID, t.Symbol, t.Name, t.Image, t.CurrentPrice, t.PriceChange24h,
				t.Volume24h, t.MarketCap, t.IsPinned, t.LastUpdated)
			if err != nil {
				return fmt.Errorf("upsert token %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// UpdateTokenPrice refreshes just the quote columns for one token.
func (s *Store) UpdateTokenPrice(ctx context.Context, tokenID, price, change24h string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET current_price = ?, price_change_24h = ?, last_updated = ? WHERE id = ?`,
		price, change24h, time.Now().UTC(), tokenID)
	if err != nil {
		return fmt.Errorf("update token price: %w", err)
	}
	return nil
}

// ListTokens returns the cached listing, pinned symbols first then by market cap.
func (s *Store) ListTokens(ctx context.Context) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, name, image, current_price, price_change_24h, volume_24h, market_cap, is_pinned, last_updated
		FROM tokens ORDER BY is_pinned DESC, CAST(market_cap AS REAL) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Name, &t.Image, &t.CurrentPrice,
			&t.PriceChange24h, &t.Volume24h, &t.MarketCap, &t.IsPinned, &t.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetToken returns one cached token.
func (s *Store) GetToken(ctx context.Context, id string) (*Token, error) {
	var t Token
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, name, image, current_price, price_change_24h, volume_24h, market_cap, is_pinned, last_updated
		FROM tokens WHERE id = ?`, id).
		Scan(&t.ID, &t.Symbol, &t.Name, &t.Image, &t.CurrentPrice,
			&t.PriceChange24h, &t.Volume24h, &t.MarketCap, &t.IsPinned, &t.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

// ---- balances ----

// GetOrCreateBalance returns the user's cash account, creating an empty one
// on first touch.
func (s *Store) GetOrCreateBalance(ctx context.Context, userID string) (*Balance, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var b *Balance
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		b, err = getOrCreateBalanceTx(ctx, tx, userID)
		return err
	})
	return b, err
}

func getOrCreateBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (*Balance, error) {
	var (
		b     Balance
		claim sql.NullTime
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id, amount, last_faucet_claim FROM balances WHERE user_id = ?`, userID).
		Scan(&b.ID, &b.UserID, &b.Amount, &claim)
	if errors.Is(err, sql.ErrNoRows) {
		b = Balance{ID: uuid.NewString(), UserID: userID, Amount: "0"}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO balances (id, user_id, amount) VALUES (?, ?, ?)`,
			b.ID, b.UserID, b.Amount); err != nil {
			return nil, fmt.Errorf("create balance: %w", err)
		}
		return &b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if claim.Valid {
		b.LastFaucetClaim = claim.Time
	}
	return &b, nil
}

// settleBalanceTx applies delta with no floor. Close settlement uses it: when
// the realized loss exceeds the position's margin the excess is still debited.
func settleBalanceTx(ctx context.Context, tx *sql.Tx, userID string, delta float64) (float64, error) {
	b, err := getOrCreateBalanceTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	next := b.AmountF() + delta
	if _, err := tx.ExecContext(ctx,
		`UPDATE balances SET amount = ? WHERE user_id = ?`, FmtDec(next), userID); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	return next, nil
}

// adjustBalanceTx applies delta to the user's balance inside tx. A negative
// result fails with ErrInsufficientBalance and nothing is written. Debit paths
// (open, margin moves) go through here; close credits use settleBalanceTx.
func adjustBalanceTx(ctx context.Context, tx *sql.Tx, userID string, delta float64) (float64, error) {
	b, err := getOrCreateBalanceTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if b.AmountF()+delta < 0 {
		return 0, ErrInsufficientBalance
	}
	return settleBalanceTx(ctx, tx, userID, delta)
}

// AdjustBalance applies delta to the cash account as its own transaction.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta float64) (float64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}
	var next float64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		next, err = adjustBalanceTx(ctx, tx, userID, delta)
		return err
	})
	return next, err
}

// ClaimFaucet credits the faucet amount unless a claim happened within the
// cooldown window.
func (s *Store) ClaimFaucet(ctx context.Context, userID string, amount float64, cooldown time.Duration) (*Balance, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var out *Balance
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getOrCreateBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if !b.LastFaucetClaim.IsZero() && now.Sub(b.LastFaucetClaim) < cooldown {
			return ErrFaucetCooldown
		}
		b.Amount = FmtDec(b.AmountF() + amount)
		b.LastFaucetClaim = now
		if _, err := tx.ExecContext(ctx,
			`UPDATE balances SET amount = ?, last_faucet_claim = ? WHERE user_id = ?`,
			b.Amount, now, userID); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		out = b
		return nil
	})
	return out, err
}

// ---- positions ----

const positionCols = `id, user_id, token_id, side, entry_price, quantity, leverage, margin,
	liquidation_price, COALESCE(take_profit, ''), COALESCE(stop_loss, ''),
	COALESCE(limit_close_price, ''), unrealized_pnl, COALESCE(realized_pnl, ''),
	is_agent_trade, status, created_at, closed_at`

func scanPosition(row rowScanner) (*Position, error) {
	var (
		p        Position
		closedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.UserID, &p.TokenID, &p.Side, &p.EntryPrice, &p.Quantity,
		&p.Leverage, &p.Margin, &p.LiquidationPrice, &p.TakeProfit, &p.StopLoss,
		&p.LimitClosePrice, &p.UnrealizedPnl, &p.RealizedPnl, &p.IsAgentTrade,
		&p.Status, &p.CreatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return &p, nil
}

// PositionFilter narrows ListPositions. Zero-value fields are ignored.
type PositionFilter struct {
	Status    string
	AgentOnly bool
}

// ListPositions returns the user's positions, newest first.
func (s *Store) ListPositions(ctx context.Context, userID string, f PositionFilter) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	query := `SELECT ` + positionCols + ` FROM positions WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AgentOnly {
		query += ` AND is_agent_trade = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetPosition returns one position owned by the user.
func (s *Store) GetPosition(ctx context.Context, userID, id string) (*Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE id = ? AND user_id = ?`, id, userID))
}

// OpenOnPair returns the user's open position on (token, side), if any.
// Used to aggregate repeat entries instead of stacking rows.
func (s *Store) OpenOnPair(ctx context.Context, userID, tokenID, side string) (*Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = ? AND token_id = ? AND side = ? AND status = 'open'`,
		userID, tokenID, side))
}

func insertTradeTx(ctx context.Context, tx *sql.Tx, t *Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var realized any
	if t.RealizedPnl != "" {
		realized = t.RealizedPnl
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, position_id, token_id, side, type, price, quantity, fee, realized_pnl, is_agent_trade, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.PositionID, t.TokenID, t.Side, t.Type, t.Price, t.Quantity,
		t.Fee, realized, t.IsAgentTrade, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// OpenPosition inserts the position and its opening trade and debits the
// margin plus fee, all in one transaction.
func (s *Store) OpenPosition(ctx context.Context, p *Position, t *Trade, debit float64) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Status = StatusOpen
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := adjustBalanceTx(ctx, tx, p.UserID, -debit); err != nil {
			return err
		}
		var tp, slv, limit any
		if p.TakeProfit != "" {
			tp = p.TakeProfit
		}
		if p.StopLoss != "" {
			slv = p.StopLoss
		}
		if p.LimitClosePrice != "" {
			limit = p.LimitClosePrice
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (id, user_id, token_id, side, entry_price, quantity, leverage, margin,
				liquidation_price, take_profit, stop_loss, limit_close_price, unrealized_pnl,
				is_agent_trade, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '0', ?, 'open', ?)`,
			p.ID, p.UserID, p.TokenID, p.Side, p.EntryPrice, p.Quantity, p.Leverage, p.Margin,
			p.LiquidationPrice, tp, slv, limit, p.IsAgentTrade, p.CreatedAt); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		t.PositionID = p.ID
		return insertTradeTx(ctx, tx, t)
	})
}

// PositionUpdate carries optional field changes. nil means leave unchanged;
// for take profit, stop loss and limit close an empty string clears the field.
type PositionUpdate struct {
	EntryPrice       *string
	Quantity         *string
	Margin           *string
	Leverage         *int
	LiquidationPrice *string
	TakeProfit       *string
	StopLoss         *string
	LimitClosePrice  *string
	UnrealizedPnl    *string
}

func (u *PositionUpdate) apply() (sets []string, args []any) {
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	nullable := func(col string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			add(col, nil)
		} else {
			add(col, *v)
		}
	}
	if u.EntryPrice != nil {
		add("entry_price", *u.EntryPrice)
	}
	if u.Quantity != nil {
		add("quantity", *u.Quantity)
	}
	if u.Margin != nil {
		add("margin", *u.Margin)
	}
	if u.Leverage != nil {
		add("leverage", *u.Leverage)
	}
	if u.LiquidationPrice != nil {
		add("liquidation_price", *u.LiquidationPrice)
	}
	nullable("take_profit", u.TakeProfit)
	nullable("stop_loss", u.StopLoss)
	nullable("limit_close_price", u.LimitClosePrice)
	if u.UnrealizedPnl != nil {
		add("unrealized_pnl", *u.UnrealizedPnl)
	}
	return sets, args
}

func updatePositionTx(ctx context.Context, tx *sql.Tx, userID, id string, upd PositionUpdate) error {
	sets, args := upd.apply()
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, userID)
	res, err := tx.ExecContext(ctx,
		`UPDATE positions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ? AND status = 'open'`,
		args...)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPositionClosed
	}
	return nil
}

// UpdatePosition patches an open position's risk fields.
func (s *Store) UpdatePosition(ctx context.Context, userID, id string, upd PositionUpdate) (*Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return updatePositionTx(ctx, tx, userID, id, upd)
	})
	if err != nil {
		return nil, err
	}
	return s.GetPosition(ctx, userID, id)
}

// AggregatePosition merges a repeat entry into an existing open position:
// the recomputed entry/quantity/margin/liquidation fields, the fill record
// and the balance debit commit together.
func (s *Store) AggregatePosition(ctx context.Context, userID, id string, upd PositionUpdate, t *Trade, debit float64) (*Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := adjustBalanceTx(ctx, tx, userID, -debit); err != nil {
			return err
		}
		if err := updatePositionTx(ctx, tx, userID, id, upd); err != nil {
			return err
		}
		t.PositionID = id
		return insertTradeTx(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	return s.GetPosition(ctx, userID, id)
}

// ClosePosition settles an open position at-most-once. The status flip is a
// compare-and-set on status='open'; a lost race returns ErrPositionClosed and
// writes nothing. credit is margin plus realized PnL and may be negative when
// the loss runs past the margin.
func (s *Store) ClosePosition(ctx context.Context, userID, id string, realizedPnl float64, t *Trade, credit float64) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE positions
			SET status = 'closed', closed_at = ?, realized_pnl = ?, unrealized_pnl = '0'
			WHERE id = ? AND user_id = ? AND status = 'open'`,
			time.Now().UTC(), FmtDec(realizedPnl), id, userID)
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrPositionClosed
		}
		if _, err := settleBalanceTx(ctx, tx, userID, credit); err != nil {
			return err
		}
		t.PositionID = id
		return insertTradeTx(ctx, tx, t)
	})
}

// AdjustPositionMargin moves margin between the cash account and an open
// position and stores the recomputed liquidation price. balanceDelta is
// negative when adding margin.
func (s *Store) AdjustPositionMargin(ctx context.Context, userID, id string, newMargin, newLiq, balanceDelta float64) (*Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	margin := FmtDec(newMargin)
	liq := FmtDec(newLiq)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := adjustBalanceTx(ctx, tx, userID, balanceDelta); err != nil {
			return err
		}
		return updatePositionTx(ctx, tx, userID, id, PositionUpdate{
			Margin:           &margin,
			LiquidationPrice: &liq,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetPosition(ctx, userID, id)
}

// ---- trades ----

// ListTrades returns the user's fill history, newest first.
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, position_id, token_id, side, type, price, quantity, fee,
			COALESCE(realized_pnl, ''), is_agent_trade, created_at
		FROM trades WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.PositionID, &t.TokenID, &t.Side, &t.Type,
			&t.Price, &t.Quantity, &t.Fee, &t.RealizedPnl, &t.IsAgentTrade, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- agent configs ----

const agentConfigCols = `id, user_id, allowed_tokens, max_capital, max_leverage, max_open_positions,
	trade_frequency_minutes, strategy, use_ema_filter, use_rsi_filter, use_volatility_filter,
	max_margin_per_trade, max_loss_per_day, use_random_margin, status, last_run_at, created_at, updated_at`

func scanAgentConfig(row rowScanner) (*AgentConfig, error) {
	var (
		c       AgentConfig
		allowed string
		lastRun sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &allowed, &c.MaxCapital, &c.MaxLeverage,
		&c.MaxOpenPositions, &c.TradeFrequencyMinutes, &c.Strategy, &c.UseEmaFilter,
		&c.UseRsiFilter, &c.UseVolatilityFilter, &c.MaxMarginPerTrade, &c.MaxLossPerDay,
		&c.UseRandomMargin, &c.Status, &lastRun, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent config: %w", err)
	}
	if lastRun.Valid {
		c.LastRunAt = lastRun.Time
	}
	if allowed != "" {
		if err := json.Unmarshal([]byte(allowed), &c.AllowedTokens); err != nil {
			return nil, fmt.Errorf("decode allowed tokens: %w", err)
		}
	}
	return &c, nil
}

// GetAgentConfig returns the user's automation config, ErrNotFound if never set.
func (s *Store) GetAgentConfig(ctx context.Context, userID string) (*AgentConfig, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return scanAgentConfig(s.db.QueryRowContext(ctx,
		`SELECT `+agentConfigCols+` FROM agent_configs WHERE user_id = ?`, userID))
}

// AgentConfigUpdate carries optional config changes, nil fields untouched.
type AgentConfigUpdate struct {
	AllowedTokens         *[]string
	MaxCapital            *string
	MaxLeverage           *int
	MaxOpenPositions      *int
	TradeFrequencyMinutes *int
	Strategy              *string
	UseEmaFilter          *bool
	UseRsiFilter          *bool
	UseVolatilityFilter   *bool
	MaxMarginPerTrade     *string
	MaxLossPerDay         *string
	UseRandomMargin       *bool
	Status                *string
}

// UpsertAgentConfig creates the config with defaults on first touch, then
// applies the update.
func (s *Store) UpsertAgentConfig(ctx context.Context, userID string, upd AgentConfigUpdate) (*AgentConfig, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM agent_configs WHERE user_id = ?`, userID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			seed, err := json.Marshal(DefaultAllowedTokens)
			if err != nil {
				return fmt.Errorf("encode default tokens: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO agent_configs (id, user_id, allowed_tokens, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)`, uuid.NewString(), userID, string(seed), now, now); err != nil {
				return fmt.Errorf("create agent config: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("lookup agent config: %w", err)
		}

		sets := []string{"updated_at = ?"}
		args := []any{now}
		add := func(col string, v any) {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
		if upd.AllowedTokens != nil {
			raw, err := json.Marshal(*upd.AllowedTokens)
			if err != nil {
				return fmt.Errorf("encode allowed tokens: %w", err)
			}
			add("allowed_tokens", string(raw))
		}
		if upd.MaxCapital != nil {
			add("max_capital", *upd.MaxCapital)
		}
		if upd.MaxLeverage != nil {
			add("max_leverage", *upd.MaxLeverage)
		}
		if upd.MaxOpenPositions != nil {
			add("max_open_positions", *upd.MaxOpenPositions)
		}
		if upd.TradeFrequencyMinutes != nil {
			add("trade_frequency_minutes", *upd.TradeFrequencyMinutes)
		}
		if upd.Strategy != nil {
			add("strategy", *upd.Strategy)
		}
		if upd.UseEmaFilter != nil {
			add("use_ema_filter", *upd.UseEmaFilter)
		}
		if upd.UseRsiFilter != nil {
			add("use_rsi_filter", *upd.UseRsiFilter)
		}
		if upd.UseVolatilityFilter != nil {
			add("use_volatility_filter", *upd.UseVolatilityFilter)
		}
		if upd.MaxMarginPerTrade != nil {
			add("max_margin_per_trade", *upd.MaxMarginPerTrade)
		}
		if upd.MaxLossPerDay != nil {
			add("max_loss_per_day", *upd.MaxLossPerDay)
		}
		if upd.UseRandomMargin != nil {
			add("use_random_margin", *upd.UseRandomMargin)
		}
		if upd.Status != nil {
			add("status", *upd.Status)
		}
		args = append(args, userID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_configs SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`,
			args...); err != nil {
			return fmt.Errorf("update agent config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAgentConfig(ctx, userID)
}

// ListRunningAgents returns every config currently in the running state.
func (s *Store) ListRunningAgents(ctx context.Context) ([]AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentConfigCols+` FROM agent_configs WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("list running agents: %w", err)
	}
	defer rows.Close()

	var out []AgentConfig
	for rows.Next() {
		c, err := scanAgentConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// TouchAgentRun records the last time the scheduler traded for this user.
func (s *Store) TouchAgentRun(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_configs SET last_run_at = ? WHERE user_id = ?`, at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("touch agent run: %w", err)
	}
	return nil
}

// ---- agent events ----

// AppendAgentEvent adds one line to the automation log.
func (s *Store) AppendAgentEvent(ctx context.Context, userID, eventType, symbol, message string) (*AgentEvent, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	e := &AgentEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventType: eventType,
		Symbol:    symbol,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	var sym any
	if symbol != "" {
		sym = symbol
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events (id, user_id, event_type, symbol, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.EventType, sym, e.Message, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append agent event: %w", err)
	}
	return e, nil
}

// ListAgentEvents returns the user's newest log lines.
func (s *Store) ListAgentEvents(ctx context.Context, userID string, limit int) ([]AgentEvent, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, COALESCE(symbol, ''), message, created_at
		FROM agent_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list agent events: %w", err)
	}
	defer rows.Close()

	var out []AgentEvent
	for rows.Next() {
		var e AgentEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.Symbol, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- pnl snapshots ----

// CreatePnlSnapshot stores one equity sample.
func (s *Store) CreatePnlSnapshot(ctx context.Context, userID string, equity, dailyPnl float64) (*PnlSnapshot, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	snap := &PnlSnapshot{
		ID:        uuid.NewString(),
		UserID:    userID,
		Equity:    FmtDec(equity),
		DailyPnl:  FmtDec(dailyPnl),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl_snapshots (id, user_id, equity, daily_pnl, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.UserID, snap.Equity, snap.DailyPnl, snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create pnl snapshot: %w", err)
	}
	return snap, nil
}

// ListPnlSnapshots returns the newest equity samples, oldest first so the
// caller can plot them directly.
func (s *Store) ListPnlSnapshots(ctx context.Context, userID string, limit int) ([]PnlSnapshot, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, equity, daily_pnl, created_at FROM (
			SELECT id, user_id, equity, daily_pnl, created_at
			FROM pnl_snapshots WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pnl snapshots: %w", err)
	}
	defer rows.Close()

	var out []PnlSnapshot
	for rows.Next() {
		var p PnlSnapshot
		if err := rows.Scan(&p.ID, &p.UserID, &p.Equity, &p.DailyPnl, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pnl snapshot: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPnlSnapshot returns the most recent sample, ErrNotFound when none.
func (s *Store) LatestPnlSnapshot(ctx context.Context, userID string) (*PnlSnapshot, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var p PnlSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, equity, daily_pnl, created_at
		FROM pnl_snapshots WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`, userID).
		Scan(&p.ID, &p.UserID, &p.Equity, &p.DailyPnl, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest pnl snapshot: %w", err)
	}
	return &p, nil
}

// ---- agent stats ----

// GetAgentStats aggregates the automation trading record.
func (s *Store) GetAgentStats(ctx context.Context, userID string) (*AgentStats, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var st AgentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN CAST(realized_pnl AS REAL) > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CAST(realized_pnl AS REAL)), 0)
		FROM positions
		WHERE user_id = ? AND is_agent_trade = 1 AND status = 'closed'`, userID).
		Scan(&st.TotalTrades, &st.WinningTrades, &st.TotalProfit)
	if err != nil {
		return nil, fmt.Errorf("agent stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM positions
		WHERE user_id = ? AND is_agent_trade = 1 AND status = 'open'`, userID).
		Scan(&st.OpenPositions)
	if err != nil {
		return nil, fmt.Errorf("agent stats open count: %w", err)
	}
	return &st, nil
}
