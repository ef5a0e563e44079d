// 文件: pkg/cash/balance_repo_test.go
// 余额仓库集成测试 (需要本地 MySQL，不可用时跳过)

package cash

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quant.com/pkg/security"
)

const testDSN = "root:123456@tcp(127.0.0.1:3307)/quant?charset=utf8mb4&parseTime=True&loc=Local"

func setupTestRepo(t *testing.T) *Repo {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}
	repo := NewRepo(db)
	require.NoError(t, repo.AutoMigrate())
	db.Exec("DELETE FROM portfolio_cash_balances WHERE portfolio_id = 'TEST-PF'")
	db.Exec("DELETE FROM portfolio_cash_journals WHERE portfolio_id = 'TEST-PF'")
	return repo
}

func TestRepo_SaveJournalIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	e := &JournalEvent{
		EventID:      uuid.NewString(),
		Seq:          1,
		PortfolioID:  "TEST-PF",
		FundID:       "f1",
		Currency:     security.USD,
		Action:       ActionDeposit,
		Amount:       d("100"),
		SettledAfter: d("100"),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, repo.SaveJournal(ctx, e))
	require.NoError(t, repo.InsertJournal(ctx, e)) // 重复写入忽略

	journals, err := repo.ListJournals(ctx, "TEST-PF", "f1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, journals, 1)

	bal, err := repo.GetBalance(ctx, "TEST-PF", "f1", "USD")
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.True(t, bal.Settled.Equal(d("100")))
}
