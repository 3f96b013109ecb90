package main

import (
	"fmt"
	"log"
	"os"

	"signal-core/pkg/db"
)

// verify_schema applies migrations to a database file and checks that every
// pipeline table and the signal unique key are present.
//
// Usage:
//   go run ./scripts/verify_schema.go ./data/signals.db
func main() {
	dbPath := "./data/signals.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer database.Close()

	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("Migrations failed: %v", err)
	}

	missing := 0
	for _, table := range []string{"signals", "executions", "execution_attempts", "cooldowns"} {
		var name string
		err := database.DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			fmt.Printf("MISSING table %s\n", table)
			missing++
			continue
		}
		fmt.Printf("ok      table %s\n", table)
	}

	var unique int
	err = database.DB.QueryRow(`
		SELECT COUNT(*) FROM pragma_index_list('signals') WHERE origin = 'u'
	`).Scan(&unique)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if unique == 0 {
		fmt.Println("MISSING unique key on signals(symbol, timeframe, direction, bar_time)")
		missing++
	} else {
		fmt.Println("ok      signals unique key")
	}

	if missing > 0 {
		os.Exit(1)
	}
}
