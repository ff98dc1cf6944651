package queue

// Priority orders jobs within a queue. Workers always drain higher bands
// before lower ones, so a burst of background work cannot delay a critical
// price update.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// priorityOrder is the drain order for workers, highest first.
var priorityOrder = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
	PriorityBackground,
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "background"
	}
}

// Queue names. Each gets its own JetStream stream so retention and
// consumer lag are tracked independently.
const (
	QueueWalletSync    = "wallet-sync"
	QueuePriceUpdates  = "price-updates"
	QueueNotifications = "notifications"
	QueueAnalytics     = "analytics"
	QueueMaintenance   = "maintenance"
)

// QueueNames lists every queue in declaration order.
var QueueNames = []string{
	QueueWalletSync,
	QueuePriceUpdates,
	QueueNotifications,
	QueueAnalytics,
	QueueMaintenance,
}

// Job types accepted by AddJob.
const (
	JobSyncWallet         = "sync-wallet"
	JobSyncTransactions   = "sync-transactions"
	JobFullSync           = "full-sync"
	JobSyncNFT            = "sync-nft"
	JobSyncDeFi           = "sync-defi"
	JobUpdatePrices       = "update-prices"
	JobSendNotification   = "send-notification"
	JobCalculatePortfolio = "calculate-portfolio"
	JobPortfolioSnapshot  = "portfolio-snapshot"
	JobCleanupStale       = "cleanup-stale-positions"
	JobGenerateReports    = "generate-reports"
)

type jobRoute struct {
	Queue    string
	Priority Priority
}

// jobRoutes fixes the default queue and priority band for each job type.
// Callers that know better can pin a band per job with WithPriority.
var jobRoutes = map[string]jobRoute{
	JobUpdatePrices:       {QueuePriceUpdates, PriorityCritical},
	JobSendNotification:   {QueueNotifications, PriorityCritical},
	JobSyncWallet:         {QueueWalletSync, PriorityHigh},
	JobSyncTransactions:   {QueueWalletSync, PriorityHigh},
	JobFullSync:           {QueueWalletSync, PriorityNormal},
	JobCalculatePortfolio: {QueueAnalytics, PriorityNormal},
	JobSyncNFT:            {QueueWalletSync, PriorityLow},
	JobSyncDeFi:           {QueueWalletSync, PriorityLow},
	JobPortfolioSnapshot:  {QueueAnalytics, PriorityBackground},
	JobCleanupStale:       {QueueMaintenance, PriorityBackground},
	JobGenerateReports:    {QueueAnalytics, PriorityBackground},
}

// RouteFor resolves a job type to its queue and priority. Unknown types
// land in maintenance at background priority rather than being rejected,
// so a newer producer does not break an older worker fleet.
func RouteFor(jobType string) (queue string, priority Priority) {
	if r, ok := jobRoutes[jobType]; ok {
		return r.Queue, r.Priority
	}
	return QueueMaintenance, PriorityBackground
}
