package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"flock/internal/platform/database"
	"flock/internal/platform/email"
	"flock/internal/platform/repositories"
)

// Executor receives the job's data payload and returns an opaque
// result, or an error that the manager treats as retryable.
type Executor func(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error)

// EventTrigger is the slice of the webhook manager the process_webhook
// executor needs. Defined here so the jobs engine does not depend on
// the webhooks package.
type EventTrigger interface {
	TriggerEvent(eventType string, data map[string]interface{}, source string) error
}

// ExecutorDeps are the collaborators executors draw on. Any of them
// may be nil; executors degrade to a logged no-op where that makes
// sense and fail where it does not.
type ExecutorDeps struct {
	Mailer    email.Sender
	Redis     *redis.Client
	GlobalDB  *sql.DB
	Tenants   *database.TenantDBPool
	Webhooks  EventTrigger
	BackupDir string
}

// newExecutorTable builds the closed type-to-executor mapping. Every
// Type constant must have an entry here; Add validates against this
// table.
func newExecutorTable(deps ExecutorDeps) map[Type]Executor {
	return map[Type]Executor{
		TypeSendEmail:             deps.sendEmail,
		TypeSendBulkEmail:         deps.sendBulkEmail,
		TypeSendNotificationEmail: deps.sendNotificationEmail,
		TypeGenerateReport:        deps.generateReport,
		TypeExportData:            deps.exportData,
		TypeGenerateStatistics:    deps.generateStatistics,
		TypeBackupDatabase:        deps.backupDatabase,
		TypeCleanupOldData:        deps.cleanupOldData,
		TypeArchiveLogs:           simulated("archive_logs", 100*time.Millisecond),
		TypeSyncExternalData:      simulated("sync_external_data", 200*time.Millisecond),
		TypeProcessWebhook:        deps.processWebhook,
		TypeUpdateCache:           deps.updateCache,
		TypeSendPushNotification:  simulated("send_push_notification", 50*time.Millisecond),
		TypeSendSMS:               simulated("send_sms", 50*time.Millisecond),
		TypeSendWhatsApp:          simulated("send_whatsapp", 50*time.Millisecond),
		TypeProcessImages:         simulated("process_images", 200*time.Millisecond),
		TypeGenerateThumbnails:    simulated("generate_thumbnails", 150*time.Millisecond),
		TypeCompressFiles:         simulated("compress_files", 150*time.Millisecond),
		TypeHealthCheck:           deps.healthCheck,
		TypePerformanceMonitor:    performanceMonitor,
		TypeSecurityScan:          simulated("security_scan", 300*time.Millisecond),
	}
}

// simulated stands in for work that talks to providers this codebase
// does not integrate yet (push gateway, SMS, image pipeline). It
// respects cancellation and reports what it would have done.
func simulated(name string, d time.Duration) Executor {
	return func(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		log.Debug().Str("executor", name).Msg("simulated work done")
		return map[string]interface{}{"simulated": true}, nil
	}
}

func (d ExecutorDeps) sendEmail(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	to := stringField(data, "to")
	if to == "" {
		return nil, errors.New("send_email: missing recipient")
	}
	if d.Mailer == nil {
		return nil, errors.New("send_email: no mailer configured")
	}

	subject := stringField(data, "subject")
	body := stringField(data, "body")
	if err := d.Mailer.Send(to, subject, body); err != nil {
		return nil, fmt.Errorf("send_email: %w", err)
	}
	return map[string]interface{}{"sent_to": to}, nil
}

func (d ExecutorDeps) sendBulkEmail(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	raw, _ := data["recipients"].([]interface{})
	if len(raw) == 0 {
		return nil, errors.New("send_bulk_email: no recipients")
	}
	if d.Mailer == nil {
		return nil, errors.New("send_bulk_email: no mailer configured")
	}

	subject := stringField(data, "subject")
	body := stringField(data, "body")

	sent := 0
	for _, r := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		to, _ := r.(string)
		if to == "" {
			continue
		}
		if err := d.Mailer.Send(to, subject, body); err != nil {
			return nil, fmt.Errorf("send_bulk_email: after %d sends: %w", sent, err)
		}
		sent++
	}
	return map[string]interface{}{"sent": sent}, nil
}

func (d ExecutorDeps) sendNotificationEmail(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	subject := stringField(data, "subject")
	if subject == "" {
		subject = "Notification from your church"
	}
	payload := map[string]interface{}{
		"to":      data["to"],
		"subject": subject,
		"body":    data["body"],
	}
	return d.sendEmail(ctx, payload)
}

func (d ExecutorDeps) generateReport(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	db := d.tenantDB(data)
	if db == nil {
		return nil, errors.New("generate_report: no tenant database for org")
	}

	var events, assignments int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&events); err != nil {
		return nil, fmt.Errorf("generate_report: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments`).Scan(&assignments); err != nil {
		return nil, fmt.Errorf("generate_report: %w", err)
	}

	return map[string]interface{}{
		"report_type": stringField(data, "report_type"),
		"events":      events,
		"assignments": assignments,
	}, nil
}

func (d ExecutorDeps) exportData(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	db := d.tenantDB(data)
	if db == nil {
		return nil, errors.New("export_data: no tenant database for org")
	}

	table := stringField(data, "table")
	switch table {
	case "events", "assignments", "ministries", "notifications":
	default:
		return nil, fmt.Errorf("export_data: unsupported table %q", table)
	}

	var rows int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&rows); err != nil {
		return nil, fmt.Errorf("export_data: %w", err)
	}
	return map[string]interface{}{"table": table, "rows": rows}, nil
}

func (d ExecutorDeps) generateStatistics(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	db := d.tenantDB(data)
	if db == nil {
		return nil, errors.New("generate_statistics: no tenant database for org")
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM assignments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("generate_statistics: %w", err)
	}
	defer rows.Close()

	byStatus := map[string]interface{}{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		byStatus[status] = n
	}
	return map[string]interface{}{"assignments_by_status": byStatus}, rows.Err()
}

func (d ExecutorDeps) backupDatabase(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	if d.GlobalDB == nil {
		return nil, errors.New("backup_database: no global database")
	}

	dir := d.BackupDir
	if dir == "" {
		dir = "./backups"
	}
	dest := stringField(data, "destination")
	if dest == "" {
		dest = filepath.Join(dir, fmt.Sprintf("global-%d.db", time.Now().Unix()))
	}

	// VACUUM INTO does not accept bound parameters.
	if _, err := d.GlobalDB.ExecContext(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, strings.ReplaceAll(dest, "'", "''"))); err != nil {
		return nil, fmt.Errorf("backup_database: %w", err)
	}
	return map[string]interface{}{"destination": dest}, nil
}

func (d ExecutorDeps) cleanupOldData(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	if d.Tenants == nil {
		return nil, errors.New("cleanup_old_data: no tenant pool")
	}

	retentionDays := intField(data, "retention_days")
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()

	var deleted int64
	for orgID, db := range d.Tenants.Each() {
		n, err := repositories.NewNotificationRepository(db).DeleteOlderThan(cutoff)
		if err != nil {
			log.Warn().Err(err).Str("org_id", orgID).Msg("cleanup_old_data: tenant sweep failed")
			continue
		}
		deleted += n
	}
	return map[string]interface{}{"deleted": deleted}, nil
}

func (d ExecutorDeps) processWebhook(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	if d.Webhooks == nil {
		return nil, errors.New("process_webhook: no webhook manager")
	}

	eventType := stringField(data, "event_type")
	if eventType == "" {
		return nil, errors.New("process_webhook: missing event_type")
	}

	payload, _ := data["payload"].(map[string]interface{})
	source := stringField(data, "source")
	if source == "" {
		source = "jobs"
	}

	if err := d.Webhooks.TriggerEvent(eventType, payload, source); err != nil {
		return nil, fmt.Errorf("process_webhook: %w", err)
	}
	return map[string]interface{}{"event_type": eventType}, nil
}

func (d ExecutorDeps) updateCache(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	if d.Redis == nil {
		// Cache sync is best-effort when no Redis is configured.
		return map[string]interface{}{"cached": false}, nil
	}

	key := stringField(data, "key")
	if key == "" {
		return nil, errors.New("update_cache: missing key")
	}

	ttl := time.Duration(intField(data, "ttl_seconds")) * time.Second
	if err := d.Redis.Set(ctx, "cache:"+key, fmt.Sprint(data["value"]), ttl).Err(); err != nil {
		return nil, fmt.Errorf("update_cache: %w", err)
	}
	return map[string]interface{}{"cached": true, "key": key}, nil
}

func (d ExecutorDeps) healthCheck(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	checks := map[string]interface{}{}

	if d.GlobalDB != nil {
		if err := d.GlobalDB.PingContext(ctx); err != nil {
			checks["global_db"] = "unhealthy: " + err.Error()
		} else {
			checks["global_db"] = "healthy"
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "healthy"
		}
	}

	return map[string]interface{}{"checks": checks}, nil
}

func performanceMonitor(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]interface{}{
		"goroutines":  runtime.NumGoroutine(),
		"heap_alloc":  ms.HeapAlloc,
		"total_alloc": ms.TotalAlloc,
		"gc_cycles":   ms.NumGC,
	}, nil
}

func (d ExecutorDeps) tenantDB(data map[string]interface{}) *sql.DB {
	if d.Tenants == nil {
		return nil
	}
	orgID := stringField(data, "org_id")
	if orgID == "" {
		return nil
	}
	db := d.Tenants.Each()[orgID]
	return db
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func intField(data map[string]interface{}, key string) int {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
