package codebot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	RunE:  runAudit,
}

var (
	auditEventType string
	auditRequestID string
	auditFeed      string
	auditLimit     int
	auditSince     string
	auditSummary   bool
)

func init() {
	auditCmd.Flags().StringVar(&auditEventType, "type", "", "filter by event type")
	auditCmd.Flags().StringVar(&auditRequestID, "request", "", "filter by request ID")
	auditCmd.Flags().StringVar(&auditFeed, "feed", "", "filter by feed (slack, discord)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show entries since (e.g. 2024-01-01)")
	auditCmd.Flags().BoolVar(&auditSummary, "summary", false, "count entries per event type instead of listing them")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, auditLog, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	filter := audit.Filter{
		EventType: auditEventType,
		RequestID: auditRequestID,
		Feed:      auditFeed,
		Limit:     auditLimit,
	}

	if auditSince != "" {
		t, err := time.Parse("2006-01-02", auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use YYYY-MM-DD): %w", err)
		}
		filter.Since = t
	}

	ctx := context.Background()
	if auditSummary {
		counts, err := auditLog.Summary(ctx, filter)
		if err != nil {
			return fmt.Errorf("summarizing audit log: %w", err)
		}
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("%-20s %d\n", t, counts[t])
		}
		return nil
	}

	var entries []audit.Entry
	if auditRequestID != "" && auditEventType == "" && auditFeed == "" && auditSince == "" {
		// a single request reads better oldest first
		entries, err = auditLog.History(ctx, auditRequestID)
	} else {
		entries, err = auditLog.Query(ctx, filter)
	}
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp.Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %-16s request=%-20s feed=%-8s actor=%-12s %s\n",
			ts, e.EventType, e.RequestID, e.Feed, e.Actor, e.Detail,
		)
	}

	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}
