package queue

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestRouteFor(t *testing.T) {
	cases := []struct {
		jobType      string
		wantQueue    string
		wantPriority Priority
	}{
		{JobUpdatePrices, QueuePriceUpdates, PriorityCritical},
		{JobSendNotification, QueueNotifications, PriorityCritical},
		{JobSyncWallet, QueueWalletSync, PriorityHigh},
		{JobSyncTransactions, QueueWalletSync, PriorityHigh},
		{JobFullSync, QueueWalletSync, PriorityNormal},
		{JobCalculatePortfolio, QueueAnalytics, PriorityNormal},
		{JobSyncNFT, QueueWalletSync, PriorityLow},
		{JobSyncDeFi, QueueWalletSync, PriorityLow},
		{JobPortfolioSnapshot, QueueAnalytics, PriorityBackground},
		{JobCleanupStale, QueueMaintenance, PriorityBackground},
		{JobGenerateReports, QueueAnalytics, PriorityBackground},
		{"made-up-type", QueueMaintenance, PriorityBackground},
	}

	for _, tc := range cases {
		queue, priority := RouteFor(tc.jobType)
		if queue != tc.wantQueue || priority != tc.wantPriority {
			t.Errorf("RouteFor(%q) = (%s, %s), want (%s, %s)",
				tc.jobType, queue, priority, tc.wantQueue, tc.wantPriority)
		}
	}
}

func TestResolveRoutePriorityOverride(t *testing.T) {
	queue, priority := resolveRoute(JobSyncWallet)
	if queue != QueueWalletSync || priority != PriorityHigh {
		t.Fatalf("default route = (%s, %s)", queue, priority)
	}

	queue, priority = resolveRoute(JobSyncWallet, WithPriority(PriorityCritical))
	if queue != QueueWalletSync {
		t.Errorf("override must not change the queue, got %s", queue)
	}
	if priority != PriorityCritical {
		t.Errorf("priority override: got %s, want critical", priority)
	}

	// Overrides also apply to unroutable types landing in maintenance.
	queue, priority = resolveRoute("made-up-type", WithPriority(PriorityHigh))
	if queue != QueueMaintenance || priority != PriorityHigh {
		t.Errorf("unknown type with override = (%s, %s)", queue, priority)
	}
}

func TestPriorityOrderIsStrict(t *testing.T) {
	if len(priorityOrder) != 5 {
		t.Fatalf("priority bands: got %d, want 5", len(priorityOrder))
	}
	for i := 1; i < len(priorityOrder); i++ {
		if priorityOrder[i] <= priorityOrder[i-1] {
			t.Errorf("band %s must rank below %s", priorityOrder[i], priorityOrder[i-1])
		}
	}
	if priorityOrder[0] != PriorityCritical {
		t.Error("workers must drain critical first")
	}
	if priorityOrder[len(priorityOrder)-1] != PriorityBackground {
		t.Error("workers must drain background last")
	}
}

func TestPriorityString(t *testing.T) {
	cases := map[Priority]string{
		PriorityCritical:   "critical",
		PriorityHigh:       "high",
		PriorityNormal:     "normal",
		PriorityLow:        "low",
		PriorityBackground: "background",
	}
	for p, want := range cases {
		if p.String() != want {
			t.Errorf("Priority(%d).String() = %q, want %q", p, p.String(), want)
		}
	}
}

func TestSubjectFor(t *testing.T) {
	got := subjectFor(QueueWalletSync, PriorityHigh, JobSyncWallet)
	want := "defitrack.jobs.wallet-sync.high.sync-wallet"
	if got != want {
		t.Errorf("subjectFor = %q, want %q", got, want)
	}
}

func TestStreamName(t *testing.T) {
	if got := streamName(QueueWalletSync); got != "DEFITRACK_WALLET_SYNC" {
		t.Errorf("streamName = %q", got)
	}
	if got := streamName(QueuePriceUpdates); got != "DEFITRACK_PRICE_UPDATES" {
		t.Errorf("streamName = %q", got)
	}
}

func TestAddJobDegradedWithoutBroker(t *testing.T) {
	m := NewManager(nil, zerolog.Nop(), nil)

	handle, err := m.AddJob(context.Background(), JobSyncWallet, map[string]string{"walletId": "w1"})
	if err != nil {
		t.Fatalf("degraded AddJob must not error, got %v", err)
	}
	if handle != nil {
		t.Error("degraded AddJob must return a nil handle")
	}

	stats := m.Stats(context.Background(), QueueWalletSync)
	if stats.Enqueued != 0 {
		t.Errorf("degraded enqueue must not count as enqueued, got %d", stats.Enqueued)
	}
}

func TestAddJobRejectsUnmarshalablePayload(t *testing.T) {
	m := NewManager(nil, zerolog.Nop(), nil)

	if _, err := m.AddJob(context.Background(), JobSyncWallet, func() {}); err == nil {
		t.Error("expected marshal error for func payload")
	}
}
