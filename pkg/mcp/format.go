package mcp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/guardian-crm/guardian/pkg/models"
)

// formatUsageStats formats in-memory usage statistics as text.
func formatUsageStats(s models.UsageStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage Statistics\n"+
		"  Requests:      %d\n"+
		"  Hits:          %d\n"+
		"  Misses:        %d\n"+
		"  Hit Rate:      %.1f%%\n"+
		"  Degraded:      %d\n"+
		"  Total Cost:    $%.4f\n"+
		"  Cost Savings:  $%.4f\n"+
		"  Tokens Saved:  %d\n"+
		"  Avg Response:  %.0fms\n",
		s.TotalRequests, s.Hits, s.Misses, s.HitRate*100, s.DegradedRequests,
		s.TotalCost, s.CostSavings, s.TokensSaved, s.AvgResponseTimeMs)

	if len(s.ByTier) > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-10s %8s %8s\n", "Tier", "Requests", "Hits")
		for _, tier := range append(slices.Clone(models.Tiers), models.TierMiss) {
			bd, ok := s.ByTier[tier]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "%-10s %8d %8d\n", tier, bd.Requests, bd.Hits)
		}
	}
	return b.String()
}

// formatSummary formats persisted usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No persisted usage found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-22s %8s %8s %8s %10s %10s\n",
		"Tenant", "Action", "Requests", "Hits", "Degraded", "Tokens", "Cost")
	b.WriteString(strings.Repeat("-", 92) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s %-22s %8d %8d %8d %10d %10.4f\n",
			shorten(r.TenantID), r.Action, r.RequestCount, r.CacheHits, r.Degraded, r.TotalTokens, r.TotalCost)
	}
	return b.String()
}

// formatCircuits formats breaker snapshots as a text table.
func formatCircuits(metrics []models.CircuitMetrics, h models.CircuitHealth) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Circuits: %d total, %d healthy, %d degraded, %d failed\n",
		h.Total, h.Healthy, h.Degraded, h.Failed)
	if len(metrics) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-40s %-10s %8s %8s %8s %8s\n",
		"Key", "State", "Requests", "Failures", "Fail%", "Degraded")
	b.WriteString(strings.Repeat("-", 87) + "\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "%-40s %-10s %8d %8d %7.1f%% %8d\n",
			m.Key, m.State, m.TotalRequests, m.TotalFailures, m.FailureRate()*100, m.DegradedRequests)
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %-8s %12s %12s %12s %6s\n",
		"Tenant", "Action", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 95) + "\n")
	for _, s := range statuses {
		action := string(s.Policy.Action)
		if action == "" {
			action = "*"
		}
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-20s %-20s %-8s %12d %12d %12d %5.1f%%\n",
			shorten(s.Policy.TenantID), action, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
	if len(stats.Tiers) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-10s %8s %8s %8s %9s\n", "Tier", "Entries", "Hits", "Misses", "Evictions")
	for _, tier := range models.Tiers {
		ts, ok := stats.Tiers[tier]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%-10s %8d %8d %8d %9d\n", tier, ts.Entries, ts.Hits, ts.Misses, ts.Evictions)
	}
	return b.String()
}

func shorten(s string) string {
	if len(s) > 20 {
		return s[:8] + "..." + s[len(s)-8:]
	}
	return s
}
