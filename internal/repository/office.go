package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
)

// OfficeRepository はオフィス情報の参照を担当するインターフェースです
// オフィスの登録・更新は別サービスの責務のため、ここでは参照のみを提供します
type OfficeRepository interface {
	GetByID(ctx context.Context, officeID int64) (*model.Office, error)
	GetTitlesByIDs(ctx context.Context, officeIDs []int64) (map[int64]string, error)
}

// OfficeRepositoryImpl はOfficeRepositoryの実装です
type OfficeRepositoryImpl struct {
	db *DB
}

// NewOfficeRepository は新しいOfficeRepositoryを作成します
func NewOfficeRepository(db *DB) OfficeRepository {
	return &OfficeRepositoryImpl{
		db: db,
	}
}

// GetByID は指定されたオフィスIDのオフィスを取得します
// 存在しない場合は model.ErrOfficeNotFound を返します
func (r *OfficeRepositoryImpl) GetByID(ctx context.Context, officeID int64) (*model.Office, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "OfficeRepository.GetByID")
	defer seg.Close(nil)

	query := `
		SELECT id, user_id, title, price_per_day, monthly_discount, hidden, approval_status
		FROM offices
		WHERE id = $1
		AND deleted_at IS NULL`

	var office model.Office
	err := r.db.GetContext(ctx, &office, query, officeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOfficeNotFound
	}
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to get office %d: %w", officeID, err)
	}

	return &office, nil
}

// GetTitlesByIDs は複数のオフィスIDからタイトルを1回のクエリで取得します
func (r *OfficeRepositoryImpl) GetTitlesByIDs(ctx context.Context, officeIDs []int64) (map[int64]string, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "OfficeRepository.GetTitlesByIDs")
	defer seg.Close(nil)

	titles := make(map[int64]string, len(officeIDs))
	if len(officeIDs) == 0 {
		return titles, nil
	}

	query, args, err := sqlx.In(`SELECT id, title FROM offices WHERE id IN (?)`, officeIDs)
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to build office title query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to query office titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			seg.Close(err)
			return nil, fmt.Errorf("failed to scan office title: %w", err)
		}
		titles[id] = title
	}

	if err = rows.Err(); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("error iterating office titles: %w", err)
	}

	return titles, nil
}
