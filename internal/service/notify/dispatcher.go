// Package notify は予約イベントの通知を非同期に配信します
// 予約処理はキューに渡すだけで、配信の成否を待ちません
package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/model"
)

const (
	// DefaultBufferSize は配信待ちのイベントを保持できる件数です
	DefaultBufferSize = 100
	// DefaultDeliveryTimeout は配信先1件あたりのタイムアウトです
	DefaultDeliveryTimeout = 10 * time.Second
)

var (
	// ErrQueueFull は配信待ちのキューが満杯でイベントを破棄したことを表します
	ErrQueueFull = errors.New("notify: queue is full")
	// ErrClosed は停止済みのDispatcherにイベントを渡したことを表します
	ErrClosed = errors.New("notify: dispatcher is closed")
)

// Delivery は配信先に渡す通知の単位です
type Delivery struct {
	Event         model.ReservationEvent
	Notifications []model.Notification
}

// OfficeTitles は通知レコードの作成に使うオフィス名を返します
func (d Delivery) OfficeTitles() map[int64]string {
	return map[int64]string{d.Event.Reservation.OfficeID: d.Event.OfficeTitle}
}

// Sink は通知の配信先です
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// Dispatcher はイベントをバッファ付きチャネルで受け取り、
// 1つのワーカーで各配信先に順に配信します
type Dispatcher struct {
	sinks   []Sink
	queue   chan Delivery
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher はDispatcherを作成し、配信ワーカーを起動します
func NewDispatcher(bufferSize int, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Delivery, bufferSize),
		timeout: DefaultDeliveryTimeout,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify はイベントを配信キューに追加します。ブロックしません
// キューが満杯の場合はイベントを破棄して ErrQueueFull を返します
func (d *Dispatcher) Notify(_ context.Context, event model.ReservationEvent) error {
	notifications := model.NewReservationNotifications(event)
	if len(notifications) == 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- Delivery{Event: event, Notifications: notifications}:
		return nil
	default:
		log.Printf("Notification queue is full. Dropping %s event for reservation %d", event.Type, event.Reservation.ID)
		return ErrQueueFull
	}
}

// Close は新しいイベントの受け付けを止め、キューに残ったイベントを配信してから戻ります
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for delivery := range d.queue {
		d.deliver(delivery)
	}
}

// deliver は全ての配信先に配信します。1つの配信先の失敗は他に影響しません
func (d *Dispatcher) deliver(delivery Delivery) {
	ctx, seg := xray.BeginSegment(context.Background(), "NotificationDispatcher")
	defer seg.Close(nil)

	if err := seg.AddMetadata("reservation_id", delivery.Event.Reservation.ID); err != nil {
		log.Printf("Failed to add reservation_id metadata: %v", err)
	}

	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(sinkCtx, delivery)
		cancel()
		if err != nil {
			seg.AddError(err)
			log.Printf("Failed to deliver %s notification for reservation %d via %s: %v",
				delivery.Event.Type, delivery.Event.Reservation.ID, sink.Name(), err)
			continue
		}
		log.Printf("Delivered %d notifications for reservation %d via %s",
			len(delivery.Notifications), delivery.Event.Reservation.ID, sink.Name())
	}
}
