// Command ledger-audit lists accounts whose stored balance differs from the
// sum of their transaction history.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/clipcraft/clipcraft-api/internal/config"
	"github.com/clipcraft/clipcraft-api/internal/domain/credit"
	"github.com/clipcraft/clipcraft-api/internal/pkg/database"
)

func main() {
	strict := flag.Bool("strict", false, "exit with status 1 when drift is found")
	flag.Parse()

	cfg := config.Load()

	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns, pool.MaxIdleConns = 1, 1
	db, err := database.NewPostgres(cfg.DatabaseURL, pool)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	drifted, err := report(ctx, credit.NewRepository(db), os.Stdout)
	if err != nil {
		log.Fatalf("Failed to audit balances: %v", err)
	}
	if drifted > 0 && *strict {
		os.Exit(1)
	}
}

// report writes the drift table and returns how many accounts drifted.
func report(ctx context.Context, auditor credit.Auditor, out io.Writer) (int, error) {
	drifts, err := auditor.AuditBalances(ctx)
	if err != nil {
		return 0, err
	}

	if len(drifts) == 0 {
		fmt.Fprintln(out, "All balances match their transaction history")
		return 0, nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tBALANCE\tLEDGER SUM\tDELTA")
	for _, d := range drifts {
		fmt.Fprintf(w, "%s\t%d\t%d\t%+d\n", d.AccountID, d.Balance, d.LedgerSum, d.Delta())
	}
	w.Flush()

	fmt.Fprintf(out, "%d account(s) drifted\n", len(drifts))
	return len(drifts), nil
}
