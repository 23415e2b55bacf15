// Command cruzdb is a thin CLI wrapper around the cruzdb package: open a
// database backed by a durable pebble log and issue single get/put/delete
// operations, or drop into a line-oriented serve loop. Deliberately kept
// outside the transactional core's own scope.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/illinoisdata/cruzdb/cruzdb"
	"github.com/illinoisdata/cruzdb/internal/logio"
)

func main() {
	root := rootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var dbDir string

	root := &cobra.Command{
		Use:   "cruzdb",
		Short: "cruzdb is a log-structured, multi-version key-value store",
	}
	root.PersistentFlags().StringVar(&dbDir, "dir", "cruzdb-data", "directory holding the durable log")

	root.AddCommand(putCommand(&dbDir))
	root.AddCommand(getCommand(&dbDir))
	root.AddCommand(deleteCommand(&dbDir))
	root.AddCommand(serveCommand(&dbDir))
	return root
}

func openDB(dir string) (*cruzdb.DB, func() error, error) {
	log, err := logio.OpenPebbleLog("cruzdb", dir)
	if err != nil {
		return nil, nil, err
	}
	tail, err := log.CheckTail()
	if err != nil {
		return nil, nil, err
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	db, err := cruzdb.Open(log, tail, cruzdb.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return db, func() error {
		if err := db.Close(); err != nil {
			return err
		}
		return log.Close()
	}, nil
}

func putCommand(dbDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "set a key to a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := openDB(*dbDir)
			if err != nil {
				return err
			}
			defer closeDB()

			tx, err := db.Begin()
			if err != nil {
				return err
			}
			if err := tx.Put([]byte(args[0]), []byte(args[1])); err != nil {
				return err
			}
			return tx.Commit()
		},
	}
}

func getCommand(dbDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := openDB(*dbDir)
			if err != nil {
				return err
			}
			defer closeDB()

			tx, err := db.Begin()
			if err != nil {
				return err
			}
			value, ok, err := tx.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key not found: %s", args[0])
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func deleteCommand(dbDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := openDB(*dbDir)
			if err != nil {
				return err
			}
			defer closeDB()

			tx, err := db.Begin()
			if err != nil {
				return err
			}
			if err := tx.Delete([]byte(args[0])); err != nil {
				return err
			}
			return tx.Commit()
		},
	}
}

// serveCommand runs a tiny line-oriented REPL: "put k v", "get k", "delete
// k", one transaction per line.
func serveCommand(dbDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run an interactive get/put/delete REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := openDB(*dbDir)
			if err != nil {
				return err
			}
			defer closeDB()

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if err := runLine(db, scanner.Text()); err != nil {
					fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
				}
			}
			return scanner.Err()
		},
	}
}

func runLine(db *cruzdb.DB, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	switch strings.ToLower(fields[0]) {
	case "put":
		if len(fields) != 3 {
			return fmt.Errorf("usage: put <key> <value>")
		}
		if err := tx.Put([]byte(fields[1]), []byte(fields[2])); err != nil {
			return err
		}
		return tx.Commit()
	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		value, ok, err := tx.Get([]byte(fields[1]))
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if !ok {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(string(value))
		return nil
	case "delete":
		if len(fields) != 2 {
			return fmt.Errorf("usage: delete <key>")
		}
		if err := tx.Delete([]byte(fields[1])); err != nil {
			return err
		}
		return tx.Commit()
	default:
		tx.Rollback()
		return fmt.Errorf("unknown command: %s", fields[0])
	}
}
