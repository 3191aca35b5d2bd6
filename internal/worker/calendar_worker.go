package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"castlebook/internal/audit"
	"castlebook/internal/database"
	"castlebook/internal/domain"
	"castlebook/internal/metrics"
	"castlebook/internal/models"
	"castlebook/internal/retry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	calendarQueueKey      = "castlebook:calendar:queue"
	calendarDeadLetterKey = "castlebook:calendar:deadletter"
)

// calendarTaskPayload is persisted in SyncTask.Payload as JSON.
type calendarTaskPayload struct {
	BookingID int64           `json:"booking_id"`
	EventID   string          `json:"event_id,omitempty"`
	Booking   *models.Booking `json:"booking,omitempty"`
}

// CalendarWorker consumes sync_queue tasks and mirrors bookings into the external calendar.
type CalendarWorker struct {
	db            *database.DB
	calendar      domain.CalendarClient
	redis         *redis.Client
	trail         *audit.Trail
	retryPolicy   retry.Policy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewCalendarWorker builds a worker. redisClient may be nil, in which case an in-memory queue
// backed by the sync_queue table is used.
func NewCalendarWorker(
	db *database.DB,
	calendar domain.CalendarClient,
	redisClient *redis.Client,
	policy retry.Policy,
	logger *zerolog.Logger,
) *CalendarWorker {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 5
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = 2 * time.Second
	}
	if policy.MaxDelay == 0 {
		policy.MaxDelay = time.Minute
	}
	if policy.BackoffFactor == 0 {
		policy.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "calendar_worker").Logger()

	return &CalendarWorker{
		db:            db,
		calendar:      calendar,
		redis:         redisClient,
		trail:         audit.NewTrail(db, time.Now, logger),
		retryPolicy:   policy,
		queue:         make(chan models.SyncTask, models.WorkerQueueSize),
		redisQueueKey: calendarQueueKey,
		deadLetterKey: calendarDeadLetterKey,
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        &l,
	}
}

// EnqueueTask persists the task and schedules it via redis or the in-memory queue.
func (w *CalendarWorker) EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking) error {
	if taskType != models.SyncTaskUpsert && taskType != models.SyncTaskDelete {
		return fmt.Errorf("unknown task type: %q", taskType)
	}
	if bookingID == 0 && booking != nil {
		bookingID = booking.ID
	}
	if bookingID == 0 {
		return errors.New("booking id is required")
	}

	payload := calendarTaskPayload{BookingID: bookingID, Booking: booking}
	if booking != nil {
		payload.EventID = booking.CalendarEventID
	}
	if taskType == models.SyncTaskDelete && payload.EventID == "" {
		return errors.New("calendar event id is required for delete")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.SyncStatusPending,
	}
	if err := w.db.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the consume loop until ctx is done.
func (w *CalendarWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("calendar worker started")
	defer w.logger.Info().Msg("calendar worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processQueued(ctx, t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processQueued(ctx, t)
			continue
		}

		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending sync tasks")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessPending handles one batch of due tasks from the sync_queue table.
func (w *CalendarWorker) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

// RequeueFailed puts dead tasks back in the queue.
func (w *CalendarWorker) RequeueFailed(ctx context.Context) (int64, error) {
	n, err := w.db.RequeueFailedSyncTasks(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && w.redis != nil {
		if err := w.redis.Del(ctx, w.deadLetterKey).Err(); err != nil {
			w.logger.Warn().Err(err).Msg("failed to clear dead letter list")
		}
	}
	return n, nil
}

func (w *CalendarWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *CalendarWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

// processQueued skips tasks the table poll already finished.
func (w *CalendarWorker) processQueued(ctx context.Context, queued models.SyncTask) {
	task, err := w.db.GetSyncTask(ctx, queued.ID)
	if err != nil {
		w.logger.Warn().Err(err).Int64("task_id", queued.ID).Msg("queued task not loadable")
		return
	}
	if task.Status != models.SyncStatusPending && task.Status != models.SyncStatusRetry {
		return
	}
	w.processTask(ctx, task)
}

func (w *CalendarWorker) processTask(ctx context.Context, task *models.SyncTask) {
	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncCalendarSync("ok")
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *CalendarWorker) handleTask(ctx context.Context, taskType string, payload calendarTaskPayload) error {
	switch taskType {
	case models.SyncTaskUpsert:
		return w.upsert(ctx, payload.BookingID)
	case models.SyncTaskDelete:
		return w.delete(ctx, payload)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

// upsert mirrors the booking as it is now, not as it was when the task was queued,
// so that several queued upserts converge on one calendar event.
func (w *CalendarWorker) upsert(ctx context.Context, bookingID int64) error {
	booking, err := w.db.GetBooking(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Debug().Int64("booking_id", bookingID).Msg("booking gone before sync, skipping upsert")
		return nil
	}
	if err != nil {
		return err
	}
	if booking.Status == models.StatusExpired || booking.Status == models.StatusPending {
		if booking.CalendarEventID == "" {
			return nil
		}
		return w.delete(ctx, calendarTaskPayload{BookingID: bookingID, EventID: booking.CalendarEventID})
	}

	eventID, err := w.calendar.UpsertEvent(ctx, booking)
	if err != nil {
		return err
	}
	if eventID != booking.CalendarEventID {
		if err := w.db.SetCalendarEventID(ctx, bookingID, eventID); err != nil {
			return err
		}
	}
	if err := w.trail.CalendarSynced(ctx, bookingID, eventID, models.SyncTaskUpsert); err != nil {
		w.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("failed to audit calendar sync")
	}
	return nil
}

func (w *CalendarWorker) delete(ctx context.Context, payload calendarTaskPayload) error {
	if payload.EventID == "" {
		return errors.New("calendar event id missing")
	}
	if err := w.calendar.DeleteEvent(ctx, payload.EventID); err != nil {
		return err
	}

	// the booking may already be deleted
	if err := w.db.SetCalendarEventID(ctx, payload.BookingID, ""); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	entry := audit.NewCalendarSyncedEntry(payload.EventID, models.SyncTaskDelete)
	if err := w.trail.Append(ctx, payload.BookingID, entry); err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn().Err(err).Int64("booking_id", payload.BookingID).Msg("failed to audit calendar delete")
	}
	return nil
}

func (w *CalendarWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxAttempts {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncCalendarSync("retry")
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int64("booking_id", task.BookingID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("calendar sync failed, will retry")
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *CalendarWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.IncCalendarSync("failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64("booking_id", task.BookingID).Msg("calendar sync failed")
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (calendarTaskPayload, error) {
	var payload calendarTaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *CalendarWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *CalendarWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push")
	}
}
