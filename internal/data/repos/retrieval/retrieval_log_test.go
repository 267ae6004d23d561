package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-rag/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
)

func TestRetrievalLogRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewRetrievalLogRepo(db, testutil.Logger(t))

	userID := uuid.New()
	rows := []*types.RetrievalLog{
		{UserID: &userID, Query: "q1", Results: datatypes.JSON(`[]`), Metrics: datatypes.JSON(`{"k":5}`)},
		{UserID: &userID, Query: "q2", Results: datatypes.JSON(`[]`), Metrics: datatypes.JSON(`{"k":5}`)},
	}
	if err := repo.CreateBatch(dbc, rows); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := repo.CreateBatch(dbc, nil); err != nil {
		t.Fatalf("CreateBatch empty: %v", err)
	}
	got, err := repo.ListRecentByUser(dbc, userID, 10)
	if err != nil || len(got) != 2 {
		t.Fatalf("ListRecentByUser: err=%v len=%d", err, len(got))
	}
}
