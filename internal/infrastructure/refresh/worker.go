package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lumora-tech/visibility-engine/internal/cfg"
	"github.com/lumora-tech/visibility-engine/internal/usecase"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/jitter"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
)

// notifyConn — минимальный срез pgx.Conn, нужный слушателю уведомлений.
type notifyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context, connStr string) (notifyConn, error)

func pgxDial(ctx context.Context, connStr string) (notifyConn, error) {
	return pgx.Connect(ctx, connStr)
}

// Worker владеет расписанием движка видимости: полный пересчёт по cron
// (ловит переходы через границы окна продаж, которые не порождают правок)
// и пересчёт по меткам — немедленно по NOTIFY из очереди меток.
type Worker struct {
	uc          usecase.VisibilityUC
	logger      logger.Logger
	cfg         *cfg.RefreshCfg
	dbConnStr   string
	dial        dialFunc
	backoffBase time.Duration
	backoffMax  time.Duration
	stop        chan struct{}
	wg          sync.WaitGroup
}

func NewWorker(
	uc usecase.VisibilityUC,
	logger logger.Logger,
	cfg *cfg.RefreshCfg,
	dbConnStr string,
) *Worker {
	return &Worker{
		uc:          uc,
		logger:      logger,
		cfg:         cfg,
		dbConnStr:   dbConnStr,
		dial:        pgxDial,
		backoffBase: 2 * time.Second,
		backoffMax:  30 * time.Second,
		stop:        make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.runFullRefreshSchedule(ctx)
	}()

	// Запускаем слушатель уведомлений очереди меток
	go func() {
		defer w.wg.Done()
		w.listenDirtyNotifications(ctx)
	}()
}

func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

// runFullRefreshSchedule запускает полный пересчёт по cron-выражению из конфигурации.
func (w *Worker) runFullRefreshSchedule(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(w.cfg.FullRefreshCron, time.Now(), false)
		if err != nil {
			w.logger.Errorf(err, "Failed to compute next full refresh tick, scheduler stopped")
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.stop:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := w.uc.RefreshAll(ctx, time.Now()); err != nil {
				w.logger.Warnf("Scheduled full refresh failed: %v", err)
			}
		}
	}
}

// listenDirtyNotifications слушает канал product_visibility_dirty и запускает
// пересчёт по меткам. Таймаут ожидания служит страховочным интервалом:
// метки обрабатываются, даже если уведомление было потеряно.
func (w *Worker) listenDirtyNotifications(ctx context.Context) {
	conn, ok := w.connectWithRetry(ctx)
	if !ok {
		return
	}
	defer func() { conn.Close(ctx) }()

	// Обрабатываем накопившиеся метки при старте
	w.logger.Infof("Draining pending dirty marks on startup...")
	w.refreshMarked(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
			ctxWithTimeout, cancel := context.WithTimeout(ctx, w.cfg.NotifyTimeout)
			notif, err := conn.WaitForNotification(ctxWithTimeout)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					// Страховочный прогон на случай потерянного уведомления
					w.refreshMarked(ctx)
					continue
				}
				if errors.Is(err, context.Canceled) {
					continue
				}

				w.logger.Warnf("Connection lost: %v. Reconnecting...", err)
				conn.Close(ctx)

				conn, ok = w.connectWithRetry(ctx)
				if !ok {
					return
				}
				continue
			}

			if notif != nil && notif.Channel == "product_visibility_dirty" {
				w.logger.Debugf("Received dirty mark notification, refreshing marked products")
				w.refreshMarked(ctx)
			}
		}
	}
}

// connectWithRetry подключается и подписывается на канал меток, повторяя
// попытки с экспоненциальным отступлением до успеха или остановки воркера.
func (w *Worker) connectWithRetry(ctx context.Context) (notifyConn, bool) {
	attempt := 0
	for {
		conn, err := w.connect(ctx)
		if err == nil {
			return conn, true
		}

		w.logger.Warnf("Connect for LISTEN failed: %v. Retrying...", err)

		backoff := jitter.ExponentialBackoff(w.backoffBase, w.backoffMax, attempt, jitter.DefaultJitter)
		select {
		case <-ctx.Done():
			return nil, false
		case <-w.stop:
			return nil, false
		case <-time.After(backoff):
		}
		attempt++
	}
}

func (w *Worker) connect(ctx context.Context) (notifyConn, error) {
	conn, err := w.dial(ctx, w.dbConnStr)
	if err != nil {
		return nil, e.Wrap("failed to connect for LISTEN", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN product_visibility_dirty"); err != nil {
		conn.Close(ctx)
		return nil, e.Wrap("failed to LISTEN", err)
	}

	w.logger.Infof("Subscribed to 'product_visibility_dirty' channel")
	return conn, nil
}

func (w *Worker) refreshMarked(ctx context.Context) {
	if _, err := w.uc.RefreshMarked(ctx, time.Now()); err != nil {
		w.logger.Warnf("Marked refresh failed: %v", err)
	}
}
