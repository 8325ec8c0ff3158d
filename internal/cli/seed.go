package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/imrishuroy/go-clothing-orderflow/internal/config"
	"github.com/imrishuroy/go-clothing-orderflow/internal/customers"
	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
)

// SeedFile is the YAML document accepted by `shopctl seed`.
type SeedFile struct {
	Items     []SeedItem     `yaml:"items"`
	Customers []SeedCustomer `yaml:"customers"`
}

type SeedItem struct {
	ID    int     `yaml:"id"`
	Kind  string  `yaml:"kind"`
	Name  string  `yaml:"name"`
	Size  string  `yaml:"size"`
	Price float64 `yaml:"price"`
	Brand string  `yaml:"brand"`
	Stock int     `yaml:"stock"`
}

type SeedCustomer struct {
	ID            int    `yaml:"id"`
	Name          string `yaml:"name"`
	PreferredSize string `yaml:"preferred_size"`
	Points        int    `yaml:"points"`
}

// LoadSeedFile parses path and builds every entry through the validating
// constructors. Nothing is returned unless the whole file is valid.
func LoadSeedFile(path string) ([]*inventory.Item, []*customers.Customer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parsing seed file: %w", err)
	}

	seenItems := make(map[int]bool, len(f.Items))
	items := make([]*inventory.Item, 0, len(f.Items))
	for i, si := range f.Items {
		if seenItems[si.ID] {
			return nil, nil, fmt.Errorf("items[%d]: duplicate id %d", i, si.ID)
		}
		seenItems[si.ID] = true
		kind, err := inventory.KindFor(si.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		item, err := inventory.New(kind, inventory.Attributes{
			ID: si.ID, Name: si.Name, Size: si.Size, Price: si.Price, Brand: si.Brand, Stock: si.Stock,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		items = append(items, item)
	}

	seenCustomers := make(map[int]bool, len(f.Customers))
	custs := make([]*customers.Customer, 0, len(f.Customers))
	for i, sc := range f.Customers {
		if seenCustomers[sc.ID] {
			return nil, nil, fmt.Errorf("customers[%d]: duplicate id %d", i, sc.ID)
		}
		seenCustomers[sc.ID] = true
		c, err := customers.New(customers.Attributes{
			ID: sc.ID, Name: sc.Name, PreferredSize: sc.PreferredSize, Points: sc.Points,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("customers[%d]: %w", i, err)
		}
		custs = append(custs, c)
	}
	return items, custs, nil
}

func newSeedCmd(dynamo dynamoFactory) *cobra.Command {
	var (
		file           string
		itemsTable     string
		customersTable string
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load items and customers from a YAML file",
		Long:  "Validate every entry of the seed file, then write items and customers to their tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, custs, err := LoadSeedFile(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				for _, it := range items {
					fmt.Fprintln(out, it.DisplayInfo())
				}
				for _, c := range custs {
					fmt.Fprintln(out, c.Profile())
				}
				fmt.Fprintf(out, "%d items, %d customers valid\n", len(items), len(custs))
				return nil
			}

			if itemsTable == "" || customersTable == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				if itemsTable == "" {
					itemsTable = cfg.ItemsTable
				}
				if customersTable == "" {
					customersTable = cfg.CustomersTable
				}
			}

			ctx := cmd.Context()
			client, err := dynamo(ctx)
			if err != nil {
				return fmt.Errorf("connecting to dynamodb: %w", err)
			}
			itemStore := inventory.NewStore(client, itemsTable)
			customerStore := customers.NewStore(client, customersTable)

			for _, it := range items {
				if err := itemStore.Put(ctx, it); err != nil {
					return fmt.Errorf("item %d: %w", it.ID(), err)
				}
			}
			for _, c := range custs {
				if err := customerStore.Put(ctx, c); err != nil {
					return fmt.Errorf("customer %d: %w", c.ID(), err)
				}
			}
			fmt.Fprintf(out, "Seeded %d items into %s, %d customers into %s\n", len(items), itemsTable, len(custs), customersTable)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "catalog.yaml", "Seed file to load")
	cmd.Flags().StringVar(&itemsTable, "items-table", "", "Items table name (default $ITEMS_TABLE or clothing-items)")
	cmd.Flags().StringVar(&customersTable, "customers-table", "", "Customers table name (default $CUSTOMERS_TABLE or clothing-customers)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print entries without writing")

	return cmd
}
