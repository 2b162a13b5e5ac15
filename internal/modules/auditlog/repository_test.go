package auditlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/coinpilot/internal/domain"
	testingpkg "github.com/coinpilot/coinpilot/internal/testing"
)

func setupAuditRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled)), cleanup
}

func TestAppend_RoundTripsStructuredFields(t *testing.T) {
	repo, cleanup := setupAuditRepo(t)
	defer cleanup()

	recID := int64(42)
	tradeID := int64(7)
	approvalID := "req-123"
	allowed := true
	entry := &Entry{
		RecommendationID: &recID,
		TradeID:          &tradeID,
		ApprovalID:       &approvalID,
		TriggerType:      domain.TriggerAutomation,
		ConfigSnapshot:   map[string]string{"fee_rate": "0.001"},
		RiskAllowed:      &allowed,
		RiskWarnings:     []string{"held 7 positions", "near daily loss limit"},
		Detail:           map[string]string{"symbol": "BTC"},
		LatencyMS:        12,
		Success:          true,
	}
	require.NoError(t, repo.Append(entry))
	assert.NotEmpty(t, entry.ID)

	entries, err := repo.GetByRecommendation(recID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, domain.TriggerAutomation, got.TriggerType)
	require.NotNil(t, got.TradeID)
	assert.Equal(t, tradeID, *got.TradeID)
	require.NotNil(t, got.ApprovalID)
	assert.Equal(t, approvalID, *got.ApprovalID)
	require.NotNil(t, got.RiskAllowed)
	assert.True(t, *got.RiskAllowed)
	assert.Equal(t, entry.RiskWarnings, got.RiskWarnings)
	assert.Equal(t, "0.001", got.ConfigSnapshot["fee_rate"])
	assert.Equal(t, "BTC", got.Detail["symbol"])
	assert.True(t, got.Success)
	assert.Empty(t, got.Error)
}

func TestAppend_OptionalFieldsStayAbsent(t *testing.T) {
	repo, cleanup := setupAuditRepo(t)
	defer cleanup()

	recID := int64(1)
	entry := &Entry{
		RecommendationID: &recID,
		TriggerType:      domain.TriggerAutomation,
		ConfigSnapshot:   map[string]string{},
		RiskReason:       "stop-loss is required",
		Error:            "infrastructure: feed down",
	}
	require.NoError(t, repo.Append(entry))

	entries, err := repo.GetByRecommendation(recID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Nil(t, got.TradeID)
	assert.Nil(t, got.ApprovalID)
	assert.Nil(t, got.RiskAllowed)
	assert.Empty(t, got.RiskWarnings)
	assert.Empty(t, got.Detail)
	assert.False(t, got.Success)
	assert.Equal(t, "stop-loss is required", got.RiskReason)
	assert.Equal(t, "infrastructure: feed down", got.Error)
}

func TestGetRecent_AppliesLimit(t *testing.T) {
	repo, cleanup := setupAuditRepo(t)
	defer cleanup()

	for i := int64(1); i <= 3; i++ {
		id := i
		require.NoError(t, repo.Append(&Entry{
			RecommendationID: &id,
			TriggerType:      domain.TriggerStopLoss,
			ConfigSnapshot:   map[string]string{},
			Success:          true,
		}))
	}

	entries, err := repo.GetRecent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Non-positive limits fall back to the default window
	entries, err = repo.GetRecent(0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
