package codebot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var responsesCmd = &cobra.Command{
	Use:   "responses [request-id]",
	Short: "List recorded requests and the replies posted for them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResponses,
}

var responsesLimit int

func init() {
	responsesCmd.Flags().IntVar(&responsesLimit, "limit", 20, "maximum number of records")
}

func runResponses(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if len(args) == 1 {
		r, err := db.GetRecord(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Request:  %s by @%s\n", r.Request.ID, r.Request.AuthorHandle)
		fmt.Printf("Text:\n%s\n", r.Request.Text)
		if !r.HasResponse {
			fmt.Println("Reply:    pending")
			return nil
		}
		fmt.Printf("Replied:  %s\n", r.RespondedAt.Local().Format(time.DateTime))
		fmt.Printf("Reply:\n%s\n", r.Response)
		return nil
	}

	counts, err := db.CountRecords(ctx)
	if err != nil {
		return err
	}
	recs, err := db.LoadRecords(ctx, responsesLimit)
	if err != nil {
		return err
	}

	for _, r := range recs {
		status := "pending"
		if r.HasResponse {
			status = "answered " + r.RespondedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-22s @%-16s %s\n", r.Request.ID, r.Request.AuthorHandle, status)
		fmt.Printf("    > %s\n", oneLine(r.Request.Text))
		if r.HasResponse {
			fmt.Printf("    < %s\n", oneLine(r.Response))
		}
	}

	fmt.Printf("\n%d requests, %d answered\n", counts.Total, counts.Responded)
	return nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:79]) + "…"
	}
	return s
}
