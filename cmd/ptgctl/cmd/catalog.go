package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ptgrt/ptgrt/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the task-class descriptor catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task-class descriptor registered in the catalog database",
	RunE:  runCatalogList,
}

func init() {
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	c := GetConfig()
	db, err := catalog.NewGormDB(&catalog.DBConfig{
		Type:     c.Catalog.Type,
		Host:     c.Catalog.Host,
		Port:     c.Catalog.Port,
		Database: c.Catalog.Database,
		User:     c.Catalog.User,
		Password: c.Catalog.Password,
		MaxConns: c.Catalog.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}

	store := catalog.NewGormCatalog(db)
	descriptors, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("list descriptors: %w", err)
	}

	if len(descriptors) == 0 {
		fmt.Println("no task classes registered")
		return nil
	}
	for _, d := range descriptors {
		fmt.Printf("%-8d %-24s locals=%d flows=%d goal=0x%x flags=0x%x\n",
			d.ID, d.Name, d.NumLocal, len(d.Flows), d.DependenciesGoal, d.Flags)
	}
	return nil
}
