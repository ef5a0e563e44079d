// 文件: pkg/cash/model.go
// 现金模块 - 动作与流水事件定义
//
// 每次现金变动都会产生一条 JournalEvent，
// 可经 Kafka / NATS 发布，由 DBWriter 消费写入 MySQL。

package cash

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/security"
)

// Kafka Topic / NATS Subject
const (
	TopicJournalEvents = "portfolio_cash_journal"
)

// =============================================================================
// 动作类型
// =============================================================================

// ActionType 账户现金动作
type ActionType uint8

const (
	ActionNone      ActionType = iota
	ActionSync                 // 按券商余额覆盖已结算现金
	ActionDeposit              // 入金
	ActionWithdraw             // 出金
	ActionCredit               // 已结算现金增加
	ActionDebit                // 已结算现金减少
	ActionUnsettled            // 未结算现金变动 (带符号)
	ActionSettle               // 未结算转已结算
)

func (t ActionType) String() string {
	switch t {
	case ActionSync:
		return "SYNC"
	case ActionDeposit:
		return "DEPOSIT"
	case ActionWithdraw:
		return "WITHDRAW"
	case ActionCredit:
		return "CREDIT"
	case ActionDebit:
		return "DEBIT"
	case ActionUnsettled:
		return "UNSETTLED"
	case ActionSettle:
		return "SETTLE"
	default:
		return "NONE"
	}
}

// AccountAction 券商余额变动回报
type AccountAction struct {
	Type     ActionType
	Currency security.CurrencyType
	Amount   decimal.Decimal
	UTCTime  time.Time
	Message  string
}

// CashPosition 某币种现金
type CashPosition struct {
	Currency  security.CurrencyType
	Settled   decimal.Decimal
	Unsettled decimal.Decimal
}

// Total 已结算 + 未结算
func (p CashPosition) Total() decimal.Decimal {
	return p.Settled.Add(p.Unsettled)
}

// =============================================================================
// 流水事件
// =============================================================================

// JournalEvent 现金流水
type JournalEvent struct {
	EventID string `json:"event_id"` // uuid，幂等键
	Seq     uint64 `json:"seq"`

	PortfolioID string                `json:"portfolio_id"`
	FundID      string                `json:"fund_id"` // 空表示账户级
	Currency    security.CurrencyType `json:"currency"`

	Action ActionType      `json:"action"`
	Amount decimal.Decimal `json:"amount"`

	SettledBefore   decimal.Decimal `json:"settled_before"`
	SettledAfter    decimal.Decimal `json:"settled_after"`
	UnsettledBefore decimal.Decimal `json:"unsettled_before"`
	UnsettledAfter  decimal.Decimal `json:"unsettled_after"`

	CreatedAt time.Time `json:"created_at"`
}

// ToJSON 序列化
func (e *JournalEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON 反序列化
func (e *JournalEvent) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// =============================================================================
// 数据库模型
// =============================================================================

// BalanceRecord 余额表
type BalanceRecord struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	PortfolioID string          `gorm:"column:portfolio_id;type:varchar(64);uniqueIndex:uk_balance"`
	FundID      string          `gorm:"column:fund_id;type:varchar(64);uniqueIndex:uk_balance"`
	Currency    string          `gorm:"column:currency;type:varchar(8);uniqueIndex:uk_balance"`
	Settled     decimal.Decimal `gorm:"column:settled;type:decimal(36,18)"`
	Unsettled   decimal.Decimal `gorm:"column:unsettled;type:decimal(36,18)"`
	Version     int             `gorm:"column:version"` // 乐观锁
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (BalanceRecord) TableName() string { return "portfolio_cash_balances" }

// JournalRecord 流水表
type JournalRecord struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	EventID         string          `gorm:"column:event_id;type:varchar(64);uniqueIndex"`
	Seq             uint64          `gorm:"column:seq"`
	PortfolioID     string          `gorm:"column:portfolio_id;type:varchar(64);index:idx_journal_owner"`
	FundID          string          `gorm:"column:fund_id;type:varchar(64);index:idx_journal_owner"`
	Currency        string          `gorm:"column:currency;type:varchar(8)"`
	Action          ActionType      `gorm:"column:action"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(36,18)"`
	SettledBefore   decimal.Decimal `gorm:"column:settled_before;type:decimal(36,18)"`
	SettledAfter    decimal.Decimal `gorm:"column:settled_after;type:decimal(36,18)"`
	UnsettledBefore decimal.Decimal `gorm:"column:unsettled_before;type:decimal(36,18)"`
	UnsettledAfter  decimal.Decimal `gorm:"column:unsettled_after;type:decimal(36,18)"`
	CreatedAt       time.Time       `gorm:"column:created_at;index"`
}

func (JournalRecord) TableName() string { return "portfolio_cash_journals" }

func journalRecordOf(e *JournalEvent) *JournalRecord {
	return &JournalRecord{
		EventID:         e.EventID,
		Seq:             e.Seq,
		PortfolioID:     e.PortfolioID,
		FundID:          e.FundID,
		Currency:        string(e.Currency),
		Action:          e.Action,
		Amount:          e.Amount,
		SettledBefore:   e.SettledBefore,
		SettledAfter:    e.SettledAfter,
		UnsettledBefore: e.UnsettledBefore,
		UnsettledAfter:  e.UnsettledAfter,
		CreatedAt:       e.CreatedAt,
	}
}
