package jobs

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Type tags a job with its executor. The set is closed: the manager
// builds its executor table from these constants at construction, and
// Add rejects anything else.
type Type string

const (
	TypeSendEmail             Type = "send_email"
	TypeSendBulkEmail         Type = "send_bulk_email"
	TypeSendNotificationEmail Type = "send_notification_email"
	TypeGenerateReport        Type = "generate_report"
	TypeExportData            Type = "export_data"
	TypeGenerateStatistics    Type = "generate_statistics"
	TypeBackupDatabase        Type = "backup_database"
	TypeCleanupOldData        Type = "cleanup_old_data"
	TypeArchiveLogs           Type = "archive_logs"
	TypeSyncExternalData      Type = "sync_external_data"
	TypeProcessWebhook        Type = "process_webhook"
	TypeUpdateCache           Type = "update_cache"
	TypeSendPushNotification  Type = "send_push_notification"
	TypeSendSMS               Type = "send_sms"
	TypeSendWhatsApp          Type = "send_whatsapp"
	TypeProcessImages         Type = "process_images"
	TypeGenerateThumbnails    Type = "generate_thumbnails"
	TypeCompressFiles         Type = "compress_files"
	TypeHealthCheck           Type = "health_check"
	TypePerformanceMonitor    Type = "performance_monitor"
	TypeSecurityScan          Type = "security_scan"
)

type Job struct {
	ID          string                 `json:"id"`
	Queue       string                 `json:"queue"`
	Type        Type                   `json:"type"`
	Data        map[string]interface{} `json:"data"`
	Status      Status                 `json:"status"`
	Priority    int                    `json:"priority"`
	Attempts    int                    `json:"attempts"`
	MaxAttempts int                    `json:"max_attempts"`
	Error       string                 `json:"error,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`

	Delay        time.Duration `json:"delay,omitempty"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	FailedAt     *time.Time    `json:"failed_at,omitempty"`
}

// eligibleAt reports whether the job can be selected for execution:
// pending, not scheduled in the future, and past its minimum age.
func (j *Job) eligibleAt(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	if j.ScheduledFor != nil && j.ScheduledFor.After(now) {
		return false
	}
	if j.Delay > 0 && now.Sub(j.CreatedAt) < j.Delay {
		return false
	}
	return true
}

// snapshot returns a copy safe to hand to callers while executor
// goroutines keep mutating the original under the manager lock.
func (j *Job) snapshot() *Job {
	c := *j
	if j.Data != nil {
		c.Data = make(map[string]interface{}, len(j.Data))
		for k, v := range j.Data {
			c.Data[k] = v
		}
	}
	if j.Result != nil {
		c.Result = make(map[string]interface{}, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	return &c
}
