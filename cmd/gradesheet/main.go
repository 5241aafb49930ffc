// gradesheet is the sheet server binary. It serves the HTTP API and
// websocket feed, and doubles as an .xlsx import/export tool against
// the same data directory.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"gradesheet-server/access"
	"gradesheet-server/server"
	"gradesheet-server/store"
	"gradesheet-server/suggest"
	"gradesheet-server/xlsxio"
)

var (
	flagAddr    string
	flagDataDir string
	flagSQLite  string
)

func openKV() (store.KV, error) {
	if flagSQLite != "" {
		return store.OpenSQLiteKV(flagSQLite)
	}
	return store.NewFileKV(flagDataDir)
}

var rootCmd = &cobra.Command{
	Use:   "gradesheet",
	Short: "Collaborative grade sheet server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and websocket feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		kv, err := openKV()
		if err != nil {
			return fmt.Errorf("abrir armazenamento: %w", err)
		}
		acc := access.NewManager()
		st := store.Open(kv, acc)
		srv := server.New(st, acc, suggest.Hinter{})

		log.Printf("main: listening on %s", flagAddr)
		return http.ListenAndServe(flagAddr, srv.Router())
	},
}

var importCmd = &cobra.Command{
	Use:   "import <arquivo.xlsx>",
	Short: "Import every worksheet of an .xlsx file as new sheets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kv, err := openKV()
		if err != nil {
			return fmt.Errorf("abrir armazenamento: %w", err)
		}
		st := store.Open(kv, access.NewManager())

		sheets, err := xlsxio.Import(args[0])
		if err != nil {
			return err
		}
		st.Import(sheets)
		st.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "%d planilha(s) importada(s) de %s\n", len(sheets), args[0])
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <arquivo.xlsx>",
	Short: "Export every sheet into one .xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kv, err := openKV()
		if err != nil {
			return fmt.Errorf("abrir armazenamento: %w", err)
		}
		st := store.Open(kv, access.NewManager())

		sheets := st.List()
		if err := xlsxio.Export(args[0], sheets); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d planilha(s) exportada(s) para %s\n", len(sheets), args[0])
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "DATA", "data directory for file persistence")
	rootCmd.PersistentFlags().StringVar(&flagSQLite, "sqlite", "", "sqlite database path (overrides --data-dir)")
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd, importCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
