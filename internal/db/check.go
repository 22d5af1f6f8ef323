package db

import (
	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/logging"
)

// CheckWalletsTableStructure dumps the live wallets schema at startup. Kept
// as a deployment aid: migration drift against a pre-existing database shows
// up here before it shows up as a runtime error.
func CheckWalletsTableStructure() {
	var result []struct {
		ColumnName string
		DataType   string
	}

	if err := DB.Raw("SELECT column_name, data_type FROM information_schema.columns WHERE table_name = 'wallets'").Scan(&result).Error; err != nil {
		logging.Error("error getting wallets table structure", zap.Error(err))
		return
	}
	for _, col := range result {
		logging.Debug("wallets column", zap.String("column", col.ColumnName), zap.String("type", col.DataType))
	}
}

// CheckWalletsTableIndexes logs the indexes on the wallets table. The unique
// indexes on internal_address and chain_address are load-bearing for
// transfer correctness, so their absence is worth noticing early.
func CheckWalletsTableIndexes() {
	var result []struct {
		IndexName string
		IndexDef  string
	}

	if err := DB.Raw("SELECT indexname, indexdef FROM pg_indexes WHERE tablename = 'wallets'").Scan(&result).Error; err != nil {
		logging.Error("error checking wallets table indexes", zap.Error(err))
		return
	}
	for _, idx := range result {
		logging.Debug("wallets index", zap.String("name", idx.IndexName), zap.String("definition", idx.IndexDef))
	}
}
