package service

import (
	"testing"
	"time"

	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestEnv(t *testing.T) (*gorm.DB, *repository.Repositories, *Services) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewServices(repos, nil, nil, zap.NewNop())
	return db, repos, svc
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %s: %v", value, err)
	}
	return parsed
}
