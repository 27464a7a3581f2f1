package handlers

import (
	"fmt"
	"net/http"

	"flock/internal/engine/jobs"
	"flock/internal/engine/webhooks"
)

// MetricsHandler exposes queue and webhook counters in the Prometheus
// text format without pulling in the client library.
type MetricsHandler struct {
	jobs     *jobs.Manager
	webhooks *webhooks.Manager
}

func NewMetricsHandler(jobManager *jobs.Manager, webhookManager *webhooks.Manager) *MetricsHandler {
	return &MetricsHandler{jobs: jobManager, webhooks: webhookManager}
}

func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP flock_up Is the server up\n")
	fmt.Fprintf(w, "# TYPE flock_up gauge\n")
	fmt.Fprintf(w, "flock_up 1\n")

	if h.jobs != nil {
		stats := h.jobs.Stats()
		fmt.Fprintf(w, "# HELP flock_jobs_total Jobs ever enqueued\n")
		fmt.Fprintf(w, "# TYPE flock_jobs_total counter\n")
		fmt.Fprintf(w, "flock_jobs_total %d\n", stats.TotalJobs)

		fmt.Fprintf(w, "# HELP flock_queue_jobs Jobs per queue by status\n")
		fmt.Fprintf(w, "# TYPE flock_queue_jobs gauge\n")
		for _, q := range stats.Queues {
			fmt.Fprintf(w, "flock_queue_jobs{queue=%q,status=\"pending\"} %d\n", q.Name, q.Pending)
			fmt.Fprintf(w, "flock_queue_jobs{queue=%q,status=\"running\"} %d\n", q.Name, q.Running)
			fmt.Fprintf(w, "flock_queue_jobs{queue=%q,status=\"completed\"} %d\n", q.Name, q.Completed)
			fmt.Fprintf(w, "flock_queue_jobs{queue=%q,status=\"failed\"} %d\n", q.Name, q.Failed)
		}
	}

	if h.webhooks != nil {
		fmt.Fprintf(w, "# HELP flock_webhook_deliveries Webhook deliveries by status\n")
		fmt.Fprintf(w, "# TYPE flock_webhook_deliveries gauge\n")
		for _, status := range []webhooks.DeliveryStatus{
			webhooks.DeliveryPending,
			webhooks.DeliveryRetrying,
			webhooks.DeliveryDelivered,
			webhooks.DeliveryFailed,
		} {
			fmt.Fprintf(w, "flock_webhook_deliveries{status=%q} %d\n", string(status), len(h.webhooks.Deliveries("", status)))
		}
	}
}
