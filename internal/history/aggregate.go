// Package history provides persistent storage of deployment records with
// query-time aggregation.
package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/armature/armature/internal/interfaces"
)

// applyUpdate merges a partial update into a record, enforcing status
// monotonicity: a terminal record never moves back to a non-terminal
// status, never switches to a different terminal status, and never loses
// its end time.
func applyUpdate(record *interfaces.DeploymentRecord, update interfaces.RecordUpdate, now time.Time) error {
	if update.Status != nil {
		current := record.Status
		next := *update.Status
		if current.IsTerminal() && next != current {
			return fmt.Errorf("deployment %s already terminal with status %s, cannot set %s",
				record.DeploymentName, current, next)
		}
		record.Status = next
	}
	if update.EndTime != nil {
		record.EndTime = update.EndTime
	}
	if update.DurationSeconds != nil {
		record.DurationSeconds = update.DurationSeconds
	}
	if update.Outputs != nil {
		record.Outputs = update.Outputs
	}
	if update.ErrorDetails != nil {
		record.ErrorDetails = update.ErrorDetails
	}
	if update.ResourceCount != nil {
		record.ResourceCount = *update.ResourceCount
	}
	if update.RetryCount != nil {
		record.RetryCount = *update.RetryCount
	}
	record.UpdatedAt = now
	return nil
}

// matchesFilter reports whether a record passes the listing filter
func matchesFilter(record *interfaces.DeploymentRecord, filter interfaces.RecordFilter) bool {
	if filter.Status != "" && record.Status != filter.Status {
		return false
	}
	if filter.Project != "" && record.Project != filter.Project {
		return false
	}
	if filter.Environment != "" && record.Environment != filter.Environment {
		return false
	}
	if filter.TemplateName != "" && record.TemplateName != filter.TemplateName {
		return false
	}
	if !filter.Since.IsZero() && record.StartTime.Before(filter.Since) {
		return false
	}
	return true
}

// sortAndLimit orders records newest first and applies the filter limit
func sortAndLimit(records []*interfaces.DeploymentRecord, limit int) []*interfaces.DeploymentRecord {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// maxFailureSamples caps the recent-failure list in statistics
const maxFailureSamples = 5

// computeStatistics aggregates records at query time
func computeStatistics(records []*interfaces.DeploymentRecord, now time.Time) *interfaces.DeploymentStatistics {
	stats := &interfaces.DeploymentStatistics{
		TotalDeployments: len(records),
		ByStatus:         make(map[interfaces.DeploymentStatus]int),
		ByTemplate:       make(map[string]int),
		ByLocation:       make(map[string]int),
		ByEnvironment:    make(map[string]int),
	}

	weekAgo := now.AddDate(0, 0, -7)
	var failures []*interfaces.DeploymentRecord
	var durationSum int64
	var durationCount int
	for _, r := range records {
		stats.ByStatus[r.Status]++
		if r.TemplateName != "" {
			stats.ByTemplate[r.TemplateName]++
		}
		if r.Location != "" {
			stats.ByLocation[r.Location]++
		}
		if r.Environment != "" {
			stats.ByEnvironment[r.Environment]++
		}
		if r.StartTime.After(weekAgo) {
			stats.Last7Days++
		}
		if r.Status == interfaces.StatusFailed {
			failures = append(failures, r)
		}
		if r.DurationSeconds != nil {
			d := *r.DurationSeconds
			durationSum += d
			durationCount++
			if durationCount == 1 || d < stats.MinDurationSeconds {
				stats.MinDurationSeconds = d
			}
			if d > stats.MaxDurationSeconds {
				stats.MaxDurationSeconds = d
			}
		}
	}

	succeeded := stats.ByStatus[interfaces.StatusSucceeded]
	failed := stats.ByStatus[interfaces.StatusFailed]
	if succeeded+failed > 0 {
		stats.SuccessRate = float64(succeeded) / float64(succeeded+failed) * 100
	}
	if durationCount > 0 {
		stats.AvgDurationSeconds = float64(durationSum) / float64(durationCount)
	}

	failures = sortAndLimit(failures, maxFailureSamples)
	for _, r := range failures {
		sample := interfaces.FailureSample{
			DeploymentName: r.DeploymentName,
			ResourceGroup:  r.ResourceGroup,
			TemplateName:   r.TemplateName,
			EndTime:        r.EndTime,
		}
		if len(r.ErrorDetails) > 0 {
			sample.Message = r.ErrorDetails[0].Message
		}
		stats.RecentFailures = append(stats.RecentFailures, sample)
	}
	return stats
}

const trendDateLayout = "2006-01-02"

// computeTrends buckets records per UTC day over the trailing window
func computeTrends(records []*interfaces.DeploymentRecord, days int, now time.Time) []interfaces.TrendPoint {
	if days <= 0 {
		days = 30
	}
	cutoff := now.UTC().AddDate(0, 0, -days)

	type bucket struct {
		point       interfaces.TrendPoint
		durationSum int64
		durationN   int
	}
	buckets := make(map[string]*bucket)

	for _, r := range records {
		start := r.StartTime.UTC()
		if start.Before(cutoff) {
			continue
		}
		day := start.Format(trendDateLayout)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{point: interfaces.TrendPoint{Date: day}}
			buckets[day] = b
		}
		b.point.Total++
		switch r.Status {
		case interfaces.StatusSucceeded:
			b.point.Succeeded++
		case interfaces.StatusFailed:
			b.point.Failed++
		}
		if r.DurationSeconds != nil {
			b.durationSum += *r.DurationSeconds
			b.durationN++
		}
	}

	out := make([]interfaces.TrendPoint, 0, len(buckets))
	for _, b := range buckets {
		if b.durationN > 0 {
			b.point.AvgDurationSeconds = float64(b.durationSum) / float64(b.durationN)
		}
		if b.point.Total > 0 {
			b.point.SuccessRate = float64(b.point.Succeeded) / float64(b.point.Total) * 100
		}
		out = append(out, b.point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// cleanupEligible reports whether a record can be removed by Cleanup
func cleanupEligible(record *interfaces.DeploymentRecord, cutoff time.Time) bool {
	if !record.Status.IsTerminal() {
		return false
	}
	reference := record.UpdatedAt
	if record.EndTime != nil {
		reference = *record.EndTime
	}
	return reference.Before(cutoff)
}
