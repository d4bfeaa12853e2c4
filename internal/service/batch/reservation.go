package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/config"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/database"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/utils"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
	"github.com/uma-arai/sbcntr-office-reservation/internal/repository"
)

// TaskClient はStep Functionsのタスク結果の通知に使う操作です
type TaskClient interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
}

// ReservationAuditBatchService は有効な予約の重複を検査するバッチ処理を担当します
// 同一オフィスで期間が重なる有効な予約は存在しないはずで、見つかった組をそのまま報告します
type ReservationAuditBatchService struct {
	db              *database.DB
	reservationRepo repository.ReservationRepository
	sfnClient       TaskClient
	cfg             *config.Config
}

// NewReservationAuditBatchService は新しいReservationAuditBatchServiceを作成します
func NewReservationAuditBatchService(cfg *config.Config, sfnClient TaskClient) (*ReservationAuditBatchService, error) {
	db, err := database.NewDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	repoDb := repository.NewDBFromSQLX(db.DB)

	return &ReservationAuditBatchService{
		db:              db,
		reservationRepo: repository.NewReservationRepository(repoDb),
		sfnClient:       sfnClient,
		cfg:             cfg,
	}, nil
}

// Close は終了処理を行います
func (s *ReservationAuditBatchService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Run は予約の重複検査を実行します
func (s *ReservationAuditBatchService) Run(ctx context.Context) error {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationAuditBatchService.Run")
	defer seg.Close(nil)

	startTime := time.Now()

	conflicts, err := s.reservationRepo.FindActiveOverlaps(ctx)
	if err != nil {
		seg.Close(err)
		return utils.WithStack(fmt.Errorf("failed to find overlapping reservations: %w", err))
	}

	for _, c := range conflicts {
		log.Printf("Overlapping active reservations found: office=%d reservations=%d,%d", c.OfficeID, c.FirstID, c.SecondID)
	}
	if err := seg.AddMetadata("conflict_count", len(conflicts)); err != nil {
		log.Printf("Failed to add conflict_count metadata: %v", err)
	}

	if err := s.sendTaskSuccess(ctx, conflicts); err != nil {
		seg.Close(err)
		return utils.WithStack(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	if err := seg.AddMetadata("duration", duration.String()); err != nil {
		log.Printf("Failed to add duration metadata: %v", err)
	}

	log.Printf("Reservation audit batch process completed successfully. Conflicts: %d, Duration: %v", len(conflicts), duration)
	return nil
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、検出した重複を返却します
func (s *ReservationAuditBatchService) sendTaskSuccess(ctx context.Context, conflicts []model.ReservationConflict) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if os.Getenv("ENV") == "LOCAL" || s.sfnClient == nil {
		log.Printf("Local environment detected. Skipping Step Functions task success notification")
		return nil
	}

	output, err := json.Marshal(map[string]any{
		"conflict_count": len(conflicts),
		"conflicts":      conflicts,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal conflicts: %w", err)
	}

	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	_, err = s.sfnClient.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(string(output)),
	})
	if err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	log.Printf("Successfully sent task success with output: %s", string(output))
	return nil
}
