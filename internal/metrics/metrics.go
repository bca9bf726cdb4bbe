package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	ReportsReceived  atomic.Int64
	ReportsRejected  atomic.Int64
	BatchesMerged    atomic.Int64
	AlertsFired      atomic.Int64
	ListenerDrops    atomic.Int64
	DeliveryFailures atomic.Int64
	DBWriteSuccess   atomic.Int64
	DBWriteFailures  atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "tracker_reports_received_total %d\n", ReportsReceived.Load())
	fmt.Fprintf(w, "tracker_reports_rejected_total %d\n", ReportsRejected.Load())
	fmt.Fprintf(w, "tracker_offline_batches_merged_total %d\n", BatchesMerged.Load())
	fmt.Fprintf(w, "tracker_alerts_fired_total %d\n", AlertsFired.Load())
	fmt.Fprintf(w, "tracker_listener_drops_total %d\n", ListenerDrops.Load())
	fmt.Fprintf(w, "tracker_delivery_failures_total %d\n", DeliveryFailures.Load())
	fmt.Fprintf(w, "tracker_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "tracker_db_write_failures_total %d\n", DBWriteFailures.Load())
}
