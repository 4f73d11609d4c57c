package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"qmt-trader/internal/store"
)

// Recorder 将引擎事件、账户历史与成交记录持久化到 SQLite。
// 记录失败只降级为日志告警，不影响交易主流程。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 初始化记录器并创建所需表结构。
func NewRecorder(store *store.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("record: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS engine_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_events_type ON engine_events(event_type);
CREATE TABLE IF NOT EXISTS account_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	cash REAL NOT NULL,
	market_value REAL NOT NULL,
	total_asset REAL NOT NULL,
	position_volume REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	quantity REAL NOT NULL,
	pnl REAL NOT NULL
);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("record: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (r *Recorder) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("record: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO engine_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record: 写入事件失败: %w", err)
	}
	return nil
}

// RecordEvent 写入事件并把失败降级为告警日志。
func (r *Recorder) RecordEvent(ctx context.Context, eventType EventType, payload interface{}) {
	if err := r.Record(ctx, Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		r.logger.Warn("记录事件失败", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// RecordError 记录一次可恢复的异常。
func (r *Recorder) RecordError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	payload := map[string]interface{}{
		"message": msg,
		"error":   fmt.Sprint(err),
		"context": fields,
	}
	r.RecordEvent(ctx, EventError, payload)
}

// RecordSnapshot 追加一条账户历史切片。
func (r *Recorder) RecordSnapshot(ctx context.Context, point HistoryPoint) {
	if point.Timestamp.IsZero() {
		point.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO account_history (ts, symbol, cash, market_value, total_asset, position_volume)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		point.Timestamp.Format(time.RFC3339), point.Symbol,
		point.Cash, point.MarketValue, point.TotalAsset, point.PositionVolume,
	)
	if err != nil {
		r.logger.Warn("记录账户历史失败", zap.Error(err))
	}
}

// RecordTrade 追加一条成交记录。
func (r *Recorder) RecordTrade(ctx context.Context, trade TradeRecord) {
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trade_log (ts, symbol, side, price, quantity, pnl)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		trade.Timestamp.Format(time.RFC3339), trade.Symbol, trade.Side,
		trade.Price, trade.Quantity, trade.PnL,
	)
	if err != nil {
		r.logger.Warn("记录成交失败", zap.Error(err))
	}
}

// History 按时间倒序返回最近的账户历史。
func (r *Recorder) History(ctx context.Context, limit int) ([]HistoryPoint, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, symbol, cash, market_value, total_asset, position_volume
		 FROM account_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("record: 查询账户历史失败: %w", err)
	}
	defer rows.Close()

	points := make([]HistoryPoint, 0, limit)
	for rows.Next() {
		var (
			ts    string
			point HistoryPoint
		)
		if scanErr := rows.Scan(&ts, &point.Symbol, &point.Cash, &point.MarketValue,
			&point.TotalAsset, &point.PositionVolume); scanErr != nil {
			return nil, fmt.Errorf("record: 解析账户历史失败: %w", scanErr)
		}
		point.Timestamp = parseTimestamp(ts)
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: 读取账户历史失败: %w", err)
	}
	return points, nil
}

// Trades 按时间倒序返回最近的成交记录。
func (r *Recorder) Trades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, symbol, side, price, quantity, pnl
		 FROM trade_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("record: 查询成交失败: %w", err)
	}
	defer rows.Close()

	trades := make([]TradeRecord, 0, limit)
	for rows.Next() {
		var (
			ts    string
			trade TradeRecord
		)
		if scanErr := rows.Scan(&ts, &trade.Symbol, &trade.Side, &trade.Price,
			&trade.Quantity, &trade.PnL); scanErr != nil {
			return nil, fmt.Errorf("record: 解析成交失败: %w", scanErr)
		}
		trade.Timestamp = parseTimestamp(ts)
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: 读取成交失败: %w", err)
	}
	return trades, nil
}

// Results 聚合报表消费方需要的历史与成交序列。
func (r *Recorder) Results(ctx context.Context, limit int) (Results, error) {
	history, err := r.History(ctx, limit)
	if err != nil {
		return Results{}, err
	}
	trades, err := r.Trades(ctx, limit)
	if err != nil {
		return Results{}, err
	}
	return Results{History: history, Trades: trades}, nil
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}
