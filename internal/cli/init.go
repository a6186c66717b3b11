package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .switchyard/config.yaml and the document store",
	Long: `Write a default .switchyard/config.yaml (unless one exists) and open the
configured document store so its directories or tables exist.

Running init again is safe: an existing config is left untouched.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	created, err := config.WriteDefault(root)
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if created {
		fmt.Printf("%sInitialized%s %s\n", styleBoldGreen, colorReset, config.Path(root))
	} else {
		fmt.Printf("%sConfig exists%s %s\n", styleBoldYellow, colorReset, config.Path(root))
	}
	printField("Store", a.cfg.Store.Backend)
	opts := a.cfg.StoreOptions(root)
	switch {
	case opts.RedisURL != "" && a.cfg.Store.Backend == "redis":
		printField("Redis", opts.RedisURL)
	case opts.Path != "":
		printField("Database", opts.Path)
	default:
		printField("Data dir", opts.Dir)
	}
	fmt.Println()
	fmt.Println("Next: " + styleBoldWhite + "switchyard daemon all" + colorReset)
	return nil
}
