package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
)

// SFNClient はStep Functionsクライアントのうち通知で使う操作です
type SFNClient interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// SFNSink は通知ステートマシンを起動します
// 入力は通知バッチが受け取る {"notifications": [...]} 形式です
type SFNSink struct {
	client          SFNClient
	stateMachineArn string
}

// NewSFNSink は新しいSFNSinkを作成します
func NewSFNSink(client SFNClient, stateMachineArn string) *SFNSink {
	return &SFNSink{client: client, stateMachineArn: stateMachineArn}
}

func (s *SFNSink) Name() string { return "sfn" }

// Deliver はステートマシンの実行を開始します
func (s *SFNSink) Deliver(ctx context.Context, d Delivery) error {
	ctx, seg := xray.BeginSubsegment(ctx, "SFNSink.Deliver")
	defer seg.Close(nil)

	input, err := json.Marshal(map[string]any{
		"notifications": d.Notifications,
	})
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	// 実行名はステートマシン内で一意である必要がある
	name := fmt.Sprintf("reservation-%d-%s", d.Event.Reservation.ID, uuid.NewString())
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineArn),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to start notification execution: %w", err)
	}

	if out.ExecutionArn != nil {
		log.Printf("Started notification execution %s", *out.ExecutionArn)
	}
	return nil
}
