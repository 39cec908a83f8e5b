package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"banktransfer-reconciliation-service/cmd/reconciler/config"
	"banktransfer-reconciliation-service/internal/engine"
	"banktransfer-reconciliation-service/internal/importer"
	"banktransfer-reconciliation-service/internal/models"
	"banktransfer-reconciliation-service/internal/orders"
	"banktransfer-reconciliation-service/internal/resolver"
	"banktransfer-reconciliation-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	rowsFile      string
	ordersFile    string
	eventSlug     string
	organizerSlug string
	currency      string
	region        string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bank statement and reconcile it against orders",
	Long: `Import ingests normalized bank statement rows, drops rows that were
imported before, extracts order codes and invoice numbers from the
payment references and applies matching rows to the referenced orders.

This command requires:
- A rows file (JSON array of statement rows)
- An order data file (JSON with events, orders and invoices)
- An owner: either a single event or a whole organizer

Examples:
  # Import for a single event
  reconciler import --rows statement.json --orders orders.json --event democon

  # Organizer-wide import needs an explicit currency
  reconciler import --rows statement.json --orders orders.json \
    --organizer bigevents --currency EUR

  # Day-first date parsing for UK statements
  reconciler import --rows statement.json --orders orders.json \
    --event democon --region GB`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	// Required flags
	importCmd.Flags().StringVarP(&rowsFile, "rows", "r", "", "path to statement rows JSON file (required)")
	importCmd.Flags().StringVarP(&ordersFile, "orders", "O", "", "path to order data JSON file (required)")

	// Owner flags, exactly one of the two
	importCmd.Flags().StringVarP(&eventSlug, "event", "e", "", "event slug to import for")
	importCmd.Flags().StringVar(&organizerSlug, "organizer", "", "organizer slug to import for")

	// Import configuration flags
	importCmd.Flags().StringVarP(&currency, "currency", "c", "", "statement currency (required for --organizer)")
	importCmd.Flags().StringVar(&region, "region", "", "bank region hint for date parsing, e.g. DE or GB")
	importCmd.Flags().Int("max-retries", 5, "retries after a lock timeout")
	importCmd.Flags().Duration("retry-delay", 0, "delay between retries")
	importCmd.Flags().Duration("lock-timeout", 0, "per-owner lock acquisition timeout")
	importCmd.Flags().Int("order-code-entropy", 0, "standard order code length for truncation lookups")

	importCmd.MarkFlagRequired("rows")
	importCmd.MarkFlagRequired("orders")

	// Bind flags to viper
	viper.BindPFlag("rows", importCmd.Flags().Lookup("rows"))
	viper.BindPFlag("orders", importCmd.Flags().Lookup("orders"))
	viper.BindPFlag("event", importCmd.Flags().Lookup("event"))
	viper.BindPFlag("organizer", importCmd.Flags().Lookup("organizer"))
	viper.BindPFlag("currency", importCmd.Flags().Lookup("currency"))
	viper.BindPFlag("region", importCmd.Flags().Lookup("region"))
	viper.BindPFlag("max-retries", importCmd.Flags().Lookup("max-retries"))
	viper.BindPFlag("retry-delay", importCmd.Flags().Lookup("retry-delay"))
	viper.BindPFlag("lock-timeout", importCmd.Flags().Lookup("lock-timeout"))
	viper.BindPFlag("order-code-entropy", importCmd.Flags().Lookup("order-code-entropy"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	rowsFile = viper.GetString("rows")
	ordersFile = viper.GetString("orders")
	eventSlug = viper.GetString("event")
	organizerSlug = viper.GetString("organizer")
	currency = viper.GetString("currency")
	region = viper.GetString("region")

	if rowsFile == "" {
		return fmt.Errorf("rows file is required")
	}
	if ordersFile == "" {
		return fmt.Errorf("orders file is required")
	}

	if err := validateFileExists(rowsFile, "rows file"); err != nil {
		return err
	}
	if err := validateFileExists(ordersFile, "order data file"); err != nil {
		return err
	}

	if eventSlug == "" && organizerSlug == "" {
		return fmt.Errorf("either --event or --organizer is required")
	}
	if eventSlug != "" && organizerSlug != "" {
		return fmt.Errorf("--event and --organizer are mutually exclusive")
	}
	if organizerSlug != "" && currency == "" {
		return fmt.Errorf("--currency is required for organizer-wide imports")
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.ImportTimeout())
	defer cancel()

	scope := models.EventScope(eventSlug)
	if organizerSlug != "" {
		scope = models.OrganizerScope(organizerSlug)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting import...\n")
		fmt.Fprintf(os.Stderr, "Rows file: %s\n", rowsFile)
		fmt.Fprintf(os.Stderr, "Order data file: %s\n", ordersFile)
		fmt.Fprintf(os.Stderr, "Owner: %s\n", scope)
	}

	rows, err := loadRows(rowsFile)
	if err != nil {
		return fmt.Errorf("failed to load statement rows: %w", err)
	}

	service := orders.NewService(nil, nil)
	if err := loadOrderData(ordersFile, service); err != nil {
		return fmt.Errorf("failed to load order data: %w", err)
	}

	importerConfig := config.CreateImporterConfig(region)

	st := store.NewMemoryStore()
	res := resolver.New(service, importerConfig.OrderCodeEntropy, nil)
	eng := engine.New(st, service, res, nil, nil)

	imp, err := importer.New(st, service, eng, importerConfig, nil)
	if err != nil {
		return err
	}

	job := models.NewBankImportJob(scope, currency)
	if err := st.SaveJob(job); err != nil {
		return err
	}

	if err := imp.Run(ctx, job.ID, rows); err != nil {
		return err
	}

	return printSummary(st, scope, job.ID)
}

// loadRows reads the statement rows file
func loadRows(path string) ([]models.ImportRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rows []models.ImportRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("invalid rows JSON: %w", err)
	}
	return rows, nil
}

// orderData is the JSON schema of the order data file
type orderData struct {
	Events []struct {
		Slug      string `json:"slug"`
		Organizer string `json:"organizer"`
		Currency  string `json:"currency"`
	} `json:"events"`
	Orders []struct {
		Code     string `json:"code"`
		Event    string `json:"event"`
		Status   string `json:"status"`
		Currency string `json:"currency,omitempty"`
		Total    string `json:"total"`
		Locale   string `json:"locale,omitempty"`
	} `json:"orders"`
	Invoices []struct {
		Prefix        string `json:"prefix"`
		Number        string `json:"number"`
		FullInvoiceNo string `json:"full_invoice_no,omitempty"`
		Order         string `json:"order"`
	} `json:"invoices"`
}

// loadOrderData populates the order service from the order data file
func loadOrderData(path string, service *orders.Service) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var parsed orderData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("invalid order data JSON: %w", err)
	}

	events := make(map[string]*orders.Event, len(parsed.Events))
	for _, e := range parsed.Events {
		event := &orders.Event{
			Slug:          e.Slug,
			OrganizerSlug: e.Organizer,
			Currency:      e.Currency,
		}
		events[e.Slug] = event
		service.AddEvent(event)
	}

	orderEvents := make(map[string]string, len(parsed.Orders))
	for _, o := range parsed.Orders {
		event, ok := events[o.Event]
		if !ok {
			return fmt.Errorf("order %s references unknown event %s", o.Code, o.Event)
		}

		total, err := decimal.NewFromString(o.Total)
		if err != nil {
			return fmt.Errorf("order %s has an invalid total %q: %w", o.Code, o.Total, err)
		}

		orderCurrency := o.Currency
		if orderCurrency == "" {
			orderCurrency = event.Currency
		}

		orderEvents[o.Code] = o.Event
		service.AddOrder(&orders.Order{
			Code:          o.Code,
			EventSlug:     o.Event,
			OrganizerSlug: event.OrganizerSlug,
			Status:        orders.OrderStatus(o.Status),
			Currency:      orderCurrency,
			Total:         total,
			Locale:        o.Locale,
		})
	}

	for _, inv := range parsed.Invoices {
		slug, ok := orderEvents[inv.Order]
		if !ok {
			return fmt.Errorf("invoice %s%s references unknown order %s", inv.Prefix, inv.Number, inv.Order)
		}
		fullNo := inv.FullInvoiceNo
		if fullNo == "" {
			fullNo = inv.Prefix + inv.Number
		}
		service.AddInvoice(&orders.Invoice{
			Prefix:        inv.Prefix,
			Number:        inv.Number,
			FullInvoiceNo: fullNo,
			OrderCode:     inv.Order,
			EventSlug:     slug,
			OrganizerSlug: events[slug].OrganizerSlug,
		})
	}

	return nil
}

// printSummary prints the per-state result counts and all rows that
// need manual review
func printSummary(st store.Store, scope models.OwnerScope, jobID string) error {
	transactions, err := st.TransactionsByScope(scope)
	if err != nil {
		return err
	}

	counts := make(map[models.TransactionState]int)
	var review []*models.BankTransaction
	for _, t := range transactions {
		if t.JobID != jobID {
			continue
		}
		counts[t.State]++
		if t.State != models.TransactionStateValid {
			review = append(review, t)
		}
	}

	fmt.Printf("Import finished.\n")
	for _, state := range []models.TransactionState{
		models.TransactionStateValid,
		models.TransactionStateNoMatch,
		models.TransactionStateDuplicate,
		models.TransactionStateError,
	} {
		fmt.Printf("  %-10s %d\n", state, counts[state])
	}

	if len(review) > 0 {
		fmt.Printf("\nRows needing manual review:\n")
		for _, t := range review {
			line := fmt.Sprintf("  [%s] %s %s", t.State, t.Amount.String(), t.Reference)
			if t.Message != "" {
				line += " (" + t.Message + ")"
			}
			fmt.Println(line)
		}
	}

	return nil
}
