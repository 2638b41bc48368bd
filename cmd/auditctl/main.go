// Command auditctl prints the modification history of orders, either one
// order or every order grouped and most recently touched first.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"floor-dispatch-service/internal/config"
	"floor-dispatch-service/internal/logger"
	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/repository"
)

func main() {
	var (
		orderID = flag.String("order", "", "print the history of this order only")
		timeout = flag.Duration("timeout", 30*time.Second, "give up after this long")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(os.Stderr, "auditctl", cfg.LogLevel)

	if err := run(cfg, log, *orderID, *timeout, os.Stdout); err != nil {
		log.Error("audit history failed", "action", "auditctl_failed", "order_id", *orderID, "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, orderID string, timeout time.Duration, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	ledger := repository.NewLedger(repository.NewMongoStore(client.Database(cfg.MongoDBName)), log, repository.LedgerOptions{})

	if orderID != "" {
		recs, err := ledger.ForOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		return printRecords(out, recs)
	}

	hist, err := ledger.GroupByOrder(ctx)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	return printHistories(out, hist)
}

func printHistories(w io.Writer, hist []model.OrderHistory) error {
	for _, h := range hist {
		fmt.Fprintf(w, "\norder %s (%d records, last %s)\n", h.OrderID, len(h.Records), h.LastModified().Format(time.RFC3339))
		if err := printRecords(w, h.Records); err != nil {
			return err
		}
	}
	return nil
}

func printRecords(w io.Writer, recs []model.ModificationRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("When", "Who", "Type", "Change", "Notes")
	for _, r := range recs {
		who := r.ModifiedBy
		if r.ModifiedByName != "" {
			who = r.ModifiedByName + " (" + r.ModifiedBy + ")"
		}
		row := []string{r.ModifiedAt.Format(time.RFC3339), who, string(r.ModificationType), describe(r), r.Notes}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// describe summarizes what a record changed in one line.
func describe(r model.ModificationRecord) string {
	var parts []string
	if r.StatusChange != nil {
		parts = append(parts, fmt.Sprintf("status %s -> %s", r.StatusChange.Before, r.StatusChange.After))
	}
	for _, it := range r.AddedItems {
		parts = append(parts, "+"+itemLabel(it))
	}
	for _, it := range r.RemovedItems {
		parts = append(parts, "-"+itemLabel(it))
	}
	for _, e := range r.EditedItems {
		parts = append(parts, fmt.Sprintf("%s x%d -> x%d", e.After.Name, e.Before.Quantity, e.After.Quantity))
	}
	return strings.Join(parts, ", ")
}

func itemLabel(it model.OrderItem) string {
	return it.Name + " x" + strconv.Itoa(it.Quantity)
}
