package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var refreshColumns = []string{
	"id", "token_hash", "user_id", "tenant_id",
	"device_id", "device_name", "platform", "os_version", "app_version", "ip",
	"expires_at", "revoked", "revoked_at", "revoked_reason", "created_at", "last_used_at",
}

func refreshRow(rows *pgxmock.Rows, id, userID, tenantID uuid.UUID, hash []byte, created time.Time) *pgxmock.Rows {
	return rows.AddRow(
		id, hash, userID, tenantID,
		"dev-1", "Pixel", "android", "14", "1.0", "10.0.0.1",
		created.Add(time.Hour), false, nil, nil, created, created,
	)
}

func TestRefreshTokenRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	now := time.Now()
	rt := &model.RefreshToken{
		ID:         uuid.Must(uuid.NewV4()),
		TokenHash:  []byte("hash"),
		UserID:     uuid.Must(uuid.NewV4()),
		TenantID:   uuid.Must(uuid.NewV4()),
		Device:     model.DeviceInfo{DeviceID: "d", Platform: "ios"},
		IP:         "1.2.3.4",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(rt.ID, []byte("hash"), rt.UserID, rt.TenantID, "d", "", "ios", "", "", "1.2.3.4", rt.ExpiresAt, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(context.Background(), rt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_RevokeIfActive_SingleWinner(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	tenantID := uuid.Must(uuid.NewV4())
	hash := []byte("hash")
	now := time.Now()

	q := `UPDATE refresh_tokens SET revoked = true, revoked_at = \$3, revoked_reason = \$4, last_used_at = \$3 ` +
		`WHERE token_hash = \$1 AND tenant_id = \$2 AND revoked = false AND expires_at > \$3 RETURNING`

	mock.ExpectQuery(q).
		WithArgs(hash, tenantID, now, "Refreshed").
		WillReturnRows(refreshRow(pgxmock.NewRows(refreshColumns), id, userID, tenantID, hash, now))
	rt, err := r.RevokeIfActive(ctx, hash, tenantID, now, "Refreshed")
	require.NoError(t, err)
	require.Equal(t, userID, rt.UserID)
	require.Equal(t, "Pixel", rt.Device.DeviceName)

	mock.ExpectQuery(q).
		WithArgs(hash, tenantID, now, "Refreshed").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.RevokeIfActive(ctx, hash, tenantID, now, "Refreshed")
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_GetByHash_RevokedReason(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	id := uuid.Must(uuid.NewV4())
	now := time.Now()
	reason := "User logout"

	mock.ExpectQuery(`FROM refresh_tokens WHERE token_hash=\$1`).
		WithArgs([]byte("h")).
		WillReturnRows(pgxmock.NewRows(refreshColumns).AddRow(
			id, []byte("h"), id, id, "", "", "", "", "", "",
			now, true, &now, &reason, now, now))
	rt, err := r.GetByHash(context.Background(), []byte("h"))
	require.NoError(t, err)
	require.True(t, rt.Revoked)
	require.Equal(t, "User logout", rt.RevokedReason)
	require.NotNil(t, rt.RevokedAt)
}

func TestRefreshTokenRepo_RevokeVariants(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectExec(`WHERE token_hash = \$1 AND user_id = \$2 AND revoked = false`).
		WithArgs([]byte("h"), userID, at, "User logout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.NoError(t, r.Revoke(ctx, []byte("h"), userID, "User logout", at))

	mock.ExpectExec(`WHERE id = \$1 AND user_id = \$2 AND revoked = false`).
		WithArgs(id, userID, at, "Revoked by user").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.RevokeByID(ctx, userID, id, "Revoked by user", at), errs.ErrNotFound)

	mock.ExpectExec(`WHERE user_id = \$1 AND revoked = false`).
		WithArgs(userID, at, "Logout all").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := r.RevokeAllForUser(ctx, userID, "Logout all", at)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE expires_at < \$1`).
		WithArgs(at).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	n, err = r.DeleteExpired(ctx, at)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_ListActive_OldestFirst(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	userID := uuid.Must(uuid.NewV4())
	tenantID := uuid.Must(uuid.NewV4())
	now := time.Now()
	first, second := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	rows := pgxmock.NewRows(refreshColumns)
	refreshRow(rows, first, userID, tenantID, []byte("a"), now.Add(-2*time.Minute))
	refreshRow(rows, second, userID, tenantID, []byte("b"), now.Add(-time.Minute))
	mock.ExpectQuery(`WHERE user_id = \$1 AND revoked = false AND expires_at > \$2 ORDER BY created_at ASC`).
		WithArgs(userID, now).
		WillReturnRows(rows)

	list, err := r.ListActive(context.Background(), userID, now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first, list[0].ID)
	require.Equal(t, second, list[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
