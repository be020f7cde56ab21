package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/estio/conversations-gateway/pkg/pg"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

func setupTestDB(t *testing.T) *testDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&LocationEntity{}, &ContactEntity{}, &ConversationEntity{}, &MessageEntity{})
	require.NoError(t, err)

	return &testDB{
		DB:    pg.Wrap(db, db),
		rawDB: db,
	}
}
