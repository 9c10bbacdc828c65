package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"expensegrid/internal/client"
	"expensegrid/internal/core"
	"expensegrid/internal/workset"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func listExpenses(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := newFlagSet("list")
	category := fs.String("category", "", "category name")
	sortBy := fs.String("sort", "", "id, date, title, amount or categoryId")
	order := fs.String("order", "", "asc or desc")
	year := fs.Int("year", 0, "year")
	month := fs.Int("month", 0, "month, requires -year")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("list: %v: %w", err, errUsage)
	}

	expenses, err := c.ListExpenses(ctx, core.ExpenseQuery{
		CategoryName: *category,
		SortBy:       core.SortField(*sortBy),
		Order:        core.SortOrder(*order),
		Year:         *year,
		Month:        *month,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTITLE\tCATEGORY\tAMOUNT")
	for _, e := range expenses {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Date, e.Title, e.Category.Name, core.FormatAmount(e.Amount))
	}
	return tw.Flush()
}

// expenseFlags registers the writable columns and returns a parser for them.
func expenseFlags(fs *flag.FlagSet) func() (core.ExpenseFields, error) {
	date := fs.String("date", "", "date as YYYY-MM-DD")
	title := fs.String("title", "", "title")
	amount := fs.String("amount", "", "amount, e.g. 12.50")
	category := fs.Int64("category", 0, "category id")
	return func() (core.ExpenseFields, error) {
		d, err := core.ParseDate(*date)
		if err != nil {
			return core.ExpenseFields{}, fmt.Errorf("-date %q: %w", *date, err)
		}
		a, err := core.ParseAmount(*amount)
		if err != nil {
			return core.ExpenseFields{}, fmt.Errorf("-amount %q: %w", *amount, err)
		}
		return core.ExpenseFields{Date: d, Title: *title, Amount: a, CategoryID: *category}, nil
	}
}

func addExpense(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := newFlagSet("add")
	fields := expenseFlags(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("add: %v: %w", err, errUsage)
	}
	f, err := fields()
	if err != nil {
		return err
	}
	e, err := c.CreateExpense(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created expense %d\n", e.ID)
	return nil
}

func updateExpense(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	id, rest, err := leadingID(args)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	fs := newFlagSet("update")
	fields := expenseFlags(fs)
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("update: %v: %w", err, errUsage)
	}
	f, err := fields()
	if err != nil {
		return err
	}
	if _, err := c.UpdateExpense(ctx, id, f); err != nil {
		return err
	}
	fmt.Fprintf(out, "updated expense %d\n", id)
	return nil
}

func deleteExpense(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	id, rest, err := leadingID(args)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if len(rest) > 0 {
		return fmt.Errorf("delete: unexpected arguments %v: %w", rest, errUsage)
	}
	if err := c.DeleteExpense(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted expense %d\n", id)
	return nil
}

// leadingID takes the positional expense id that precedes any flags.
func leadingID(args []string) (int64, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return 0, nil, fmt.Errorf("missing expense id: %w", errUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid expense id %q: %w", args[0], errUsage)
	}
	return id, args[1:], nil
}

// importExpenses appends every CSV line to the working set as a new row and
// saves the whole set in one batch, so either every line is stored or none.
func importExpenses(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("import: expected one file: %w", errUsage)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	ws := workset.New(c, c, workset.Filter{Year: now.Year(), Month: int(now.Month())})
	if err := ws.Load(ctx); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	added, err := appendCSV(ws, f)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	if added == 0 {
		fmt.Fprintln(out, "nothing to import")
		return nil
	}

	if _, err := ws.Save(ctx); err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	fmt.Fprintf(out, "imported %d expenses\n", added)
	return nil
}

// appendCSV reads date,title,amount,categoryId records into new working set
// rows. A first record starting with "date" is treated as a header.
func appendCSV(ws *workset.Store, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	added := 0
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return added, nil
		}
		if err != nil {
			return 0, err
		}
		if line == 1 && strings.EqualFold(rec[0], "date") {
			continue
		}
		d, err := core.ParseDate(rec[0])
		if err != nil {
			return 0, fmt.Errorf("line %d: date %q: %w", line, rec[0], err)
		}

		key := ws.AddBlankRow()
		cells := []struct {
			field workset.Field
			value string
		}{
			{workset.FieldYear, strconv.Itoa(d.Year())},
			{workset.FieldMonth, strconv.Itoa(d.Month())},
			{workset.FieldDay, strconv.Itoa(d.Day())},
			{workset.FieldTitle, rec[1]},
			{workset.FieldAmount, rec[2]},
			{workset.FieldCategoryID, rec[3]},
		}
		for _, cell := range cells {
			if err := ws.EditCell(key, cell.field, cell.value); err != nil {
				return 0, err
			}
		}
		added++
	}
}

func listCategories(ctx context.Context, c *client.Client, out io.Writer) error {
	cats, err := c.ListCategories(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, cat := range cats {
		fmt.Fprintf(tw, "%d\t%s\n", cat.ID, cat.Name)
	}
	return tw.Flush()
}

func addCategory(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("add-category: missing name: %w", errUsage)
	}
	cat, err := c.CreateCategory(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created category %d %s\n", cat.ID, cat.Name)
	return nil
}

func monthlyReport(ctx context.Context, c *client.Client, out io.Writer) error {
	totals, err := c.MonthlyReport(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tTOTAL")
	for _, t := range totals {
		fmt.Fprintf(tw, "%04d-%02d\t%s\n", t.Year, t.Month, core.FormatAmount(t.Total))
	}
	return tw.Flush()
}

func dashboard(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := newFlagSet("dashboard")
	year := fs.Int("year", 0, "year, defaults to the current one")
	month := fs.Int("month", 0, "month, defaults to the current one")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("dashboard: %v: %w", err, errUsage)
	}
	o, err := c.Dashboard(ctx, *year, *month)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%04d-%02d\t%s\n", o.Year, o.Month, core.FormatAmount(o.Total))
	for _, ca := range o.ByCategory {
		fmt.Fprintf(tw, "  %s\t%s\n", ca.Name, core.FormatAmount(ca.Amount))
	}
	return tw.Flush()
}
