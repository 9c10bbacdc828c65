// Command expensectl talks to an expensegrid server from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"expensegrid/internal/client"
)

// ctlConfig is read from the environment.
type ctlConfig struct {
	URL     string        `env:"EXPENSEGRID_URL" envDefault:"http://localhost:8080"`
	Timeout time.Duration `env:"EXPENSEGRID_TIMEOUT" envDefault:"30s"`
}

const usage = `usage: expensectl <command> [flags]

commands:
  list          list expenses (-category, -sort, -order, -year, -month)
  add           create an expense (-date, -title, -amount, -category)
  update ID     replace an expense (-date, -title, -amount, -category)
  delete ID     delete an expense
  import FILE   save every line of a CSV file (date,title,amount,categoryId) in one batch
  categories    list categories
  add-category  create a category (NAME)
  report        monthly totals
  dashboard     month overview (-year, -month)
`

var errUsage = errors.New("invalid usage")

func main() {
	_ = godotenv.Load()

	var cfg ctlConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "expensectl: parse environment: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	c := client.New(cfg.URL, nil)
	if err := run(ctx, c, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "expensectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return listExpenses(ctx, c, rest, out)
	case "add":
		return addExpense(ctx, c, rest, out)
	case "update":
		return updateExpense(ctx, c, rest, out)
	case "delete":
		return deleteExpense(ctx, c, rest, out)
	case "import":
		return importExpenses(ctx, c, rest, out)
	case "categories":
		return listCategories(ctx, c, out)
	case "add-category":
		return addCategory(ctx, c, rest, out)
	case "report":
		return monthlyReport(ctx, c, out)
	case "dashboard":
		return dashboard(ctx, c, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}
